package profile

// Payload type identifiers understood by the client OS.
const (
	TypeConfiguration = "Configuration"
	TypeContentFilter = "com.apple.webcontent-filter"
	TypeDNSSettings   = "com.apple.dnsSettings.managed"
	TypeRestrictions  = "com.apple.applicationaccess"
)

// Document is the top-level configuration profile.
type Document struct {
	PayloadType              string `plist:"PayloadType"`
	PayloadVersion           int    `plist:"PayloadVersion"`
	PayloadIdentifier        string `plist:"PayloadIdentifier"`
	PayloadUUID              string `plist:"PayloadUUID"`
	PayloadDisplayName       string `plist:"PayloadDisplayName"`
	PayloadDescription       string `plist:"PayloadDescription"`
	PayloadOrganization      string `plist:"PayloadOrganization,omitempty"`
	PayloadRemovalDisallowed bool   `plist:"PayloadRemovalDisallowed"`
	PayloadContent           []any  `plist:"PayloadContent"`
}

// ContentFilter returns the web content filter section, if present.
func (d *Document) ContentFilter() *ContentFilterPayload {
	for _, p := range d.PayloadContent {
		if cf, ok := p.(*ContentFilterPayload); ok {
			return cf
		}
	}
	return nil
}

// DNS returns the encrypted DNS section, if present.
func (d *Document) DNS() *DNSPayload {
	for _, p := range d.PayloadContent {
		if dns, ok := p.(*DNSPayload); ok {
			return dns
		}
	}
	return nil
}

// ContentFilterPayload configures the built-in web content filter.
type ContentFilterPayload struct {
	PayloadType        string `plist:"PayloadType"`
	PayloadVersion     int    `plist:"PayloadVersion"`
	PayloadIdentifier  string `plist:"PayloadIdentifier"`
	PayloadUUID        string `plist:"PayloadUUID"`
	PayloadDisplayName string `plist:"PayloadDisplayName"`

	ContentFilterUUID  string   `plist:"ContentFilterUUID"`
	FilterType         string   `plist:"FilterType"`
	FilterBrowsers     bool     `plist:"FilterBrowsers"`
	FilterSockets      bool     `plist:"FilterSockets"`
	AutoFilterEnabled  bool     `plist:"AutoFilterEnabled"`
	RestrictWebEnabled bool     `plist:"RestrictWebEnabled"`
	BlacklistedURLs    []string `plist:"BlacklistedURLs"`
	PermittedURLs      []string `plist:"PermittedURLs"`
}

// DNSPayload forces resolution through a fixed encrypted resolver.
type DNSPayload struct {
	PayloadType        string `plist:"PayloadType"`
	PayloadVersion     int    `plist:"PayloadVersion"`
	PayloadIdentifier  string `plist:"PayloadIdentifier"`
	PayloadUUID        string `plist:"PayloadUUID"`
	PayloadDisplayName string `plist:"PayloadDisplayName"`
	PayloadDescription string `plist:"PayloadDescription"`

	DNSSettings DNSSettings `plist:"DNSSettings"`
}

// DNSSettings is the resolver description nested in DNSPayload.
type DNSSettings struct {
	DNSProtocol     string   `plist:"DNSProtocol"`
	ServerName      string   `plist:"ServerName,omitempty"`
	ServerURL       string   `plist:"ServerURL,omitempty"`
	ServerAddresses []string `plist:"ServerAddresses,omitempty"`
}

// RestrictionsPayload is only emitted for supervised, locally generated documents.
type RestrictionsPayload struct {
	PayloadType        string `plist:"PayloadType"`
	PayloadVersion     int    `plist:"PayloadVersion"`
	PayloadIdentifier  string `plist:"PayloadIdentifier"`
	PayloadUUID        string `plist:"PayloadUUID"`
	PayloadDisplayName string `plist:"PayloadDisplayName"`

	AllowEraseContentAndSettings            bool `plist:"allowEraseContentAndSettings"`
	AllowUIConfigurationProfileInstallation bool `plist:"allowUIConfigurationProfileInstallation"`
	AllowAppInstallation                    bool `plist:"allowAppInstallation"`
}
