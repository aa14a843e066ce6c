package provider

// BaseProvider provides common functionality for provider implementations.
// Embed this in concrete providers to simplify implementation.
type BaseProvider struct {
	info        Info
	credentials map[string]string
}

// NewBaseProvider creates a base provider.
func NewBaseProvider(name, description, website string, quality float64, creds []Credential) BaseProvider {
	return BaseProvider{
		info: Info{
			Name:         name,
			Description:  description,
			Website:      website,
			Credentials:  creds,
			QualityScore: quality,
		},
		credentials: make(map[string]string),
	}
}

// Info returns provider metadata. Capabilities are filled in by the registry.
func (bp *BaseProvider) Info() Info { return bp.info }

// Name is shorthand for Info().Name.
func (bp *BaseProvider) Name() string { return bp.info.Name }

// Init validates and stores credentials. Every credential marked Required
// must be present and non-empty.
func (bp *BaseProvider) Init(credentials map[string]string) error {
	for _, cred := range bp.info.Credentials {
		if cred.Required {
			val, ok := credentials[cred.Name]
			if !ok || val == "" {
				return &ErrMissingCredential{Provider: bp.info.Name, Credential: cred.Name}
			}
		}
	}
	bp.credentials = make(map[string]string, len(credentials))
	for k, v := range credentials {
		bp.credentials[k] = v
	}
	return nil
}

// Credential returns a stored credential value.
func (bp *BaseProvider) Credential(name string) string {
	return bp.credentials[name]
}

// RequireCredential returns the credential or an ErrMissingCredential. Used
// at call time so a provider that skipped Init still fails cleanly.
func (bp *BaseProvider) RequireCredential(name string) (string, error) {
	v := bp.credentials[name]
	if v == "" {
		return "", &ErrMissingCredential{Provider: bp.info.Name, Credential: name}
	}
	return v, nil
}
