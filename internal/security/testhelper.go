package security

import "time"

// NewTestTokenProvider returns a provider over a throwaway ES256 key with a one day refresh TTL.
// Every call has its own key, so tokens never verify across providers.
func NewTestTokenProvider() (*TokenProvider, error) {
	keys, err := GenerateEphemeralKey()
	if err != nil {
		return nil, err
	}
	return NewTokenProvider(keys, "devicetrust-test", "devicetrust-test", 24*time.Hour), nil
}
