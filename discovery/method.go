package discovery

import "fmt"

// Method identifies which discovery strategy produced a set of endpoints.
type Method int

const (
	// MethodEnvOverride: both endpoints were supplied explicitly by the operator.
	MethodEnvOverride Method = iota + 1

	// MethodStandardsDiscovery: {base}/.well-known/smart-configuration.
	MethodStandardsDiscovery

	// MethodCapabilityStatement: the oauth-uris extension of {base}/metadata.
	MethodCapabilityStatement

	// MethodURLDerivation: rewritten from an .../api/FHIR/R4 base URL. Not guaranteed correct.
	MethodURLDerivation
)

var methodNames = map[Method]string{
	MethodEnvOverride:         "env_override",
	MethodStandardsDiscovery:  "standards_discovery",
	MethodCapabilityStatement: "capability_statement_fallback",
	MethodURLDerivation:       "url_derivation",
}

// Methods lists every method in resolution priority order.
func Methods() []Method {
	return []Method{MethodEnvOverride, MethodStandardsDiscovery, MethodCapabilityStatement, MethodURLDerivation}
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// IsValid reports whether m is one of the defined methods.
func (m Method) IsValid() bool {
	_, ok := methodNames[m]
	return ok
}

func (m Method) MarshalText() ([]byte, error) {
	if !m.IsValid() {
		return nil, fmt.Errorf("invalid discovery method %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(text []byte) error {
	parsed, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMethod converts a wire name such as "standards_discovery" back to a Method.
func ParseMethod(name string) (Method, error) {
	for m, n := range methodNames {
		if n == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown discovery method %q", name)
}
