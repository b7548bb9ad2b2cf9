package domain

// Credential is an API key set for one exchange. Immutable once loaded.
type Credential struct {
	Exchange   ExchangeID
	APIKey     string
	APISecret  string
	Passphrase string
}

// IsZero reports whether no credential material was provided at all.
// Such an adapter is configured but runs in degraded, public-only mode.
func (c Credential) IsZero() bool {
	return c.APIKey == "" && c.APISecret == "" && c.Passphrase == ""
}

// Validate checks the fields a signer needs.
func (c Credential) Validate(requirePassphrase bool) error {
	if c.IsZero() {
		return NoCredentialsError(c.Exchange, "validate credential")
	}
	if c.APIKey == "" || c.APISecret == "" {
		return ConfigurationError(c.Exchange, ErrMissingCredentialKey)
	}
	if requirePassphrase && c.Passphrase == "" {
		return ConfigurationError(c.Exchange, ErrMissingPassphrase)
	}
	return nil
}

// String never prints secrets.
func (c Credential) String() string {
	if c.IsZero() {
		return string(c.Exchange) + ":<none>"
	}
	return string(c.Exchange) + ":" + mask(c.APIKey)
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
