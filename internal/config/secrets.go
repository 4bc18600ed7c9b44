package config

// secretKeys are the dotted keys never printed in full.
var secretKeys = map[string]bool{
	"telegram.token": true,
}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Mask hides all but the last four characters of a secret value.
func Mask(v any) any {
	s, ok := v.(string)
	if !ok || s == "" {
		return v
	}
	if len(s) > 4 {
		s = s[len(s)-4:]
	}
	return "***" + s
}

// MaskSecrets returns a copy of values with every secret key masked.
func MaskSecrets(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if secretKeys[k] {
			v = Mask(v)
		}
		out[k] = v
	}
	return out
}
