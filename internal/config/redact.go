package config

import (
	"net/url"
	"reflect"
	"slices"
	"time"

	"github.com/mitchellh/mapstructure"
)

const redactedValue = "[redacted]"

// Redacted returns a copy of c with every credential masked.
func (c Config) Redacted() Config {
	out := c
	out.Sophnet.APIKey = mask(c.Sophnet.APIKey)
	out.Redis.URL = redactURL(c.Redis.URL)
	out.Cache.Speech.EncryptionKey = mask(c.Cache.Speech.EncryptionKey)
	out.Cache.Speech.S3.AccessKeyID = mask(c.Cache.Speech.S3.AccessKeyID)
	out.Cache.Speech.S3.SecretAccessKey = mask(c.Cache.Speech.S3.SecretAccessKey)

	out.Gateway.APIKeys = slices.Clone(c.Gateway.APIKeys)
	for i := range out.Gateway.APIKeys {
		out.Gateway.APIKeys[i].SecretHash = mask(out.Gateway.APIKeys[i].SecretHash)
	}
	out.Usage.WebhookURLs = slices.Clone(c.Usage.WebhookURLs)
	for i, raw := range out.Usage.WebhookURLs {
		out.Usage.WebhookURLs[i] = redactWebhookURL(raw)
	}
	out.ModelCatalog = slices.Clone(c.ModelCatalog)
	for i := range out.ModelCatalog {
		out.ModelCatalog[i].APIKey = mask(out.ModelCatalog[i].APIKey)
	}
	return out
}

// Settings converts c into nested maps keyed by the configuration file names.
// Durations are rendered as strings.
func (c Config) Settings() (map[string]any, error) {
	out, err := structToMap(c)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func structToMap(v any) (map[string]any, error) {
	var raw map[string]any
	if err := mapstructure.Decode(v, &raw); err != nil {
		return nil, err
	}
	for key, val := range raw {
		normalized, err := normalize(val)
		if err != nil {
			return nil, err
		}
		raw[key] = normalized
	}
	return raw, nil
}

func normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case time.Duration:
		return val.String(), nil
	case map[string]any:
		for key, inner := range val {
			normalized, err := normalize(inner)
			if err != nil {
				return nil, err
			}
			val[key] = normalized
		}
		return val, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Struct:
		return structToMap(v)
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return normalize(rv.Elem().Interface())
	case reflect.Slice:
		out := make([]any, rv.Len())
		for i := range out {
			normalized, err := normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = normalized
		}
		return out, nil
	default:
		return v, nil
	}
}

func mask(v string) string {
	if v == "" {
		return ""
	}
	return redactedValue
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return redactedValue
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// redactWebhookURL also masks query values, which commonly carry tokens.
func redactWebhookURL(raw string) string {
	redacted := redactURL(raw)
	u, err := url.Parse(redacted)
	if err != nil || u.RawQuery == "" {
		return redacted
	}
	q := u.Query()
	for key := range q {
		q.Set(key, redactedValue)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
