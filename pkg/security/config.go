// Package security holds the TLS settings shared by the GII server and client
package security

// ServerMTLSConfig makes the server verify client certificates
type ServerMTLSConfig struct {
	Enabled           bool     `json:"enabled"`
	ClientCAFiles     []string `json:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty"` // false accepts clients without a certificate
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty"`
}

// ServerTLSConfig configures TLS on the GII and WebSocket listeners
type ServerTLSConfig struct {
	Enabled    bool   `json:"enabled"`
	CertFile   string `json:"cert_file,omitempty" validate:"required_if=Enabled true"`
	KeyFile    string `json:"key_file,omitempty" validate:"required_if=Enabled true"`
	MinVersion string `json:"min_version,omitempty" validate:"omitempty,oneof=1.2 1.3"`

	MTLS ServerMTLSConfig `json:"mtls,omitempty"`
}

// ClientMTLSConfig is the certificate a client presents
type ClientMTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}

// ClientTLSConfig configures TLS for dialing a GII server.
// The system CA bundle is always trusted, CAFiles are added to it.
type ClientTLSConfig struct {
	Enabled            bool     `json:"enabled"`
	ServerName         string   `json:"server_name,omitempty"`
	CAFiles            []string `json:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty"` // tests only
	MinVersion         string   `json:"min_version,omitempty"`

	MTLS ClientMTLSConfig `json:"mtls,omitempty"`
}
