package domain

// Credentials carries provider credentials. The populated variant must
// match the provider: API key (plus optional endpoint) for OpenAI,
// Azure and Google; access keys for Bedrock; a service-account
// document plus location for Vertex-style Google deployments.
//
// Credentials are supplied only through Options; the pipeline never
// reads them from the environment.
type Credentials struct {
	// API-key variant (OpenAI, Azure, Google).
	APIKey   string
	Endpoint string // base URL override, or the Azure resource endpoint

	// AWS variant (Bedrock).
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	SessionToken    string

	// Service-account variant (Vertex-style Google). The project is
	// read from the document's project_id field.
	ServiceAccountJSON string
	Location           string
}

// IsZero reports whether no credential variant is populated
func (c Credentials) IsZero() bool {
	return c.APIKey == "" &&
		c.AccessKeyID == "" && c.SecretAccessKey == "" &&
		c.ServiceAccountJSON == ""
}

// HasAWS reports whether the AWS variant is populated
func (c Credentials) HasAWS() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// HasServiceAccount reports whether the Vertex variant is populated
func (c Credentials) HasServiceAccount() bool {
	return c.ServiceAccountJSON != ""
}
