package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/altrii/altrii/internal/blocking"
	apperrors "github.com/altrii/altrii/pkg/errors"
)

// ContentType is served with downloadable profiles.
const ContentType = "application/x-apple-aspen-config"

const (
	defaultIdentifierPrefix = "com.altrii"
	defaultOrganization     = "Altrii Recovery"
	defaultDisplayName      = "Altrii Content Filter"
	defaultDNSServerName    = "family.cloudflare-dns.com"
)

var defaultDNSAddresses = []string{"1.1.1.3", "1.0.0.3"}

// DNSConfig describes the encrypted resolver every profile points at.
type DNSConfig struct {
	Protocol   string // TLS or HTTPS
	ServerName string
	ServerURL  string
	Addresses  []string
}

// Config customises identifiers and resolver details.
type Config struct {
	IdentifierPrefix string
	Organization     string
	DisplayName      string
	DNS              DNSConfig
}

// Input captures everything needed to assemble one device document.
type Input struct {
	DeviceID   string
	DeviceName string
	OwnerEmail string
	Resolved   blocking.Resolved

	// Removable must stay true for self-service downloads; only the supervision
	// helper produces non-removable documents.
	Removable           bool
	IncludeRestrictions bool
}

// Builder assembles configuration documents. It holds no per-request state.
type Builder struct {
	cfg         Config
	namespace   uuid.UUID
	fingerprint string
}

// NewBuilder applies defaults to cfg and returns a Builder.
func NewBuilder(cfg Config) *Builder {
	cfg.IdentifierPrefix = strings.Trim(strings.TrimSpace(cfg.IdentifierPrefix), ".")
	if cfg.IdentifierPrefix == "" {
		cfg.IdentifierPrefix = defaultIdentifierPrefix
	}
	if strings.TrimSpace(cfg.Organization) == "" {
		cfg.Organization = defaultOrganization
	}
	if strings.TrimSpace(cfg.DisplayName) == "" {
		cfg.DisplayName = defaultDisplayName
	}
	cfg.DNS.Protocol = strings.ToUpper(strings.TrimSpace(cfg.DNS.Protocol))
	if cfg.DNS.Protocol != "HTTPS" {
		cfg.DNS.Protocol = "TLS"
	}
	if cfg.DNS.Protocol == "TLS" && strings.TrimSpace(cfg.DNS.ServerName) == "" {
		cfg.DNS.ServerName = defaultDNSServerName
	}
	if len(cfg.DNS.Addresses) == 0 && cfg.DNS.ServerURL == "" {
		cfg.DNS.Addresses = append([]string(nil), defaultDNSAddresses...)
	}

	return &Builder{
		cfg:         cfg,
		namespace:   uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:"+cfg.IdentifierPrefix+":profiles")),
		fingerprint: configFingerprint(cfg),
	}
}

// Fingerprint digests the effective configuration. Two builders with the same fingerprint
// produce identical documents for identical input.
func (b *Builder) Fingerprint() string {
	return b.fingerprint
}

func configFingerprint(cfg Config) string {
	h := sha256.New()
	for _, part := range []string{
		cfg.IdentifierPrefix,
		cfg.Organization,
		cfg.DisplayName,
		cfg.DNS.Protocol,
		cfg.DNS.ServerName,
		cfg.DNS.ServerURL,
		strings.Join(cfg.DNS.Addresses, ","),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Build assembles the document. Empty deny/allow lists are valid and yield empty arrays.
func (b *Builder) Build(in Input) (*Document, error) {
	deviceID := strings.TrimSpace(in.DeviceID)
	email := strings.TrimSpace(in.OwnerEmail)
	if deviceID == "" {
		return nil, apperrors.ErrInvalidInput.WithMessage("profile: device id is required")
	}
	if email == "" {
		return nil, apperrors.ErrInvalidInput.WithMessage("profile: owner email is required")
	}

	deviceName := strings.TrimSpace(in.DeviceName)
	if deviceName == "" {
		deviceName = "My iPhone"
	}

	filter := &ContentFilterPayload{
		PayloadType:        TypeContentFilter,
		PayloadVersion:     1,
		PayloadIdentifier:  b.identifier("filter", deviceID),
		PayloadUUID:        b.uuid(deviceID, "filter"),
		PayloadDisplayName: b.cfg.DisplayName,
		ContentFilterUUID:  b.uuid(deviceID, "content-filter"),
		FilterType:         "BuiltIn",
		FilterBrowsers:     true,
		FilterSockets:      true,
		AutoFilterEnabled:  true,
		RestrictWebEnabled: true,
		BlacklistedURLs:    ExpandSchemes(in.Resolved.Deny),
		PermittedURLs:      ExpandSchemes(in.Resolved.Allow),
	}

	dns := &DNSPayload{
		PayloadType:        TypeDNSSettings,
		PayloadVersion:     1,
		PayloadIdentifier:  b.identifier("dns", deviceID),
		PayloadUUID:        b.uuid(deviceID, "dns"),
		PayloadDisplayName: "Encrypted DNS",
		PayloadDescription: fmt.Sprintf("Family filtering resolver over %s", b.cfg.DNS.Protocol),
		DNSSettings: DNSSettings{
			DNSProtocol:     b.cfg.DNS.Protocol,
			ServerName:      b.cfg.DNS.ServerName,
			ServerURL:       b.cfg.DNS.ServerURL,
			ServerAddresses: append([]string(nil), b.cfg.DNS.Addresses...),
		},
	}

	content := []any{filter, dns}
	if in.IncludeRestrictions {
		content = append(content, &RestrictionsPayload{
			PayloadType:        TypeRestrictions,
			PayloadVersion:     1,
			PayloadIdentifier:  b.identifier("restrictions", deviceID),
			PayloadUUID:        b.uuid(deviceID, "restrictions"),
			PayloadDisplayName: "Restrictions",
		})
	}

	description := fmt.Sprintf("Web filtering and encrypted DNS for %s (%s)", deviceName, email)
	if !in.Removable {
		description = "Non-removable " + strings.ToLower(description[:1]) + description[1:]
	}

	return &Document{
		PayloadType:              TypeConfiguration,
		PayloadVersion:           1,
		PayloadIdentifier:        b.identifier("content", deviceID),
		PayloadUUID:              b.uuid(deviceID, "profile"),
		PayloadDisplayName:       b.cfg.DisplayName,
		PayloadDescription:       description,
		PayloadOrganization:      b.cfg.Organization,
		PayloadRemovalDisallowed: !in.Removable,
		PayloadContent:           content,
	}, nil
}

func (b *Builder) identifier(section, deviceID string) string {
	return fmt.Sprintf("%s.%s.%s", b.cfg.IdentifierPrefix, section, deviceID)
}

// uuid derives a stable identifier so re-downloads update rather than duplicate the profile.
func (b *Builder) uuid(deviceID, section string) string {
	return strings.ToUpper(uuid.NewSHA1(b.namespace, []byte(deviceID+"/"+section)).String())
}

// ExpandSchemes emits an http:// and https:// entry per domain; clients match on URL prefix.
func ExpandSchemes(domains []string) []string {
	out := make([]string, 0, len(domains)*2)
	for _, d := range domains {
		out = append(out, "http://"+d, "https://"+d)
	}
	return out
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// Filename suggests a download name derived from the device name.
func Filename(deviceName string) string {
	name := strings.ToLower(strings.TrimSpace(deviceName))
	name = strings.Join(strings.Fields(name), "-")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = strings.Trim(name, ".-")
	if name == "" {
		name = "iphone"
	}
	return "altrii-safe-" + name + ".mobileconfig"
}
