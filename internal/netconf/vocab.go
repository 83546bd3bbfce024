// Package netconf classifies reassembled NETCONF messages and extracts the
// module, error and carrier information they carry.
package netconf

import "sort"

// BaseNamespace is the NETCONF envelope namespace. It never names the
// module an operation belongs to.
const BaseNamespace = "urn:ietf:params:xml:ns:netconf:base:1.0"

const baseModule = "ietf-netconf"

var defaultModules = map[string]string{
	BaseNamespace:                                     baseModule,
	"urn:o-ran:supervision:1.0":                       "o-ran-supervision",
	"urn:o-ran:fm:1.0":                                "o-ran-fm",
	"urn:o-ran:operations:1.0":                        "o-ran-operations",
	"urn:o-ran:performance-management:1.0":            "o-ran-performance-management",
	"urn:o-ran:transceiver:1.0":                       "o-ran-transceiver",
	"urn:o-ran:hardware:1.0":                          "o-ran-hardware",
	"urn:o-ran:software-management:1.0":               "o-ran-software-management",
	"urn:o-ran:file-management:1.0":                   "o-ran-file-management",
	"urn:o-ran:uplane-conf:1.0":                       "o-ran-uplane-conf",
	"urn:o-ran:delay:1.0":                             "o-ran-delay-management",
	"urn:o-ran:troubleshooting:1.0":                   "o-ran-troubleshooting",
	"urn:nokia.com:ran:ru:operations:1.0":             "nokia-ran-ru-operations",
	"urn:nokia.com:ran:ru:transceiver:1.0":            "nokia-ran-ru-transceiver",
	"urn:nokia.com:ran:ru:performance-management:1.0": "nokia-ran-ru-pm",
	"urn:nokia.com:ran:ru:fcp-triggered-captures:1.0": "nokia-ran-ru-fcp",
}

var defaultCarriers = map[string]string{
	"rx-array-carriers":             "RX Array Carrier",
	"tx-array-carriers":             "TX Array Carrier",
	"low-level-rx-links":            "Low-Level RX Link",
	"low-level-tx-links":            "Low-Level TX Link",
	"low-level-rx-endpoints":        "Low-Level RX Endpoint",
	"low-level-tx-endpoints":        "Low-Level TX Endpoint",
	"static-low-level-rx-endpoints": "Static Low-Level RX Endpoint",
	"static-low-level-tx-endpoints": "Static Low-Level TX Endpoint",
}

// Radio-unit echoes of these are not events.
var defaultStatic = map[string]bool{
	"static-low-level-rx-endpoints": true,
	"static-low-level-tx-endpoints": true,
}

// Vocabulary holds the fixed lookup tables: namespace URI to module name,
// and carrier element name to display label. A Vocabulary is immutable
// once built and safe to share between engine runs.
type Vocabulary struct {
	modules  map[string]string
	carriers map[string]string
	static   map[string]bool
}

// DefaultVocabulary returns the built-in O-RAN tables.
func DefaultVocabulary() *Vocabulary {
	return &Vocabulary{
		modules:  copyMap(defaultModules),
		carriers: copyMap(defaultCarriers),
		static:   copyMap(defaultStatic),
	}
}

// Extend returns a new Vocabulary with extra module and carrier entries.
// Entries in the arguments replace existing ones.
func (v *Vocabulary) Extend(modules, carriers map[string]string) *Vocabulary {
	out := &Vocabulary{
		modules:  copyMap(v.modules),
		carriers: copyMap(v.carriers),
		static:   copyMap(v.static),
	}
	for ns, name := range modules {
		out.modules[ns] = name
	}
	for el, label := range carriers {
		out.carriers[el] = label
	}
	return out
}

// Module maps a namespace URI to its module name, falling back to the URI.
func (v *Vocabulary) Module(ns string) string {
	if name, ok := v.modules[ns]; ok {
		return name
	}
	return ns
}

// IsCarrier reports whether el is a tracked carrier element name.
func (v *Vocabulary) IsCarrier(el string) bool {
	_, ok := v.carriers[el]
	return ok
}

// CarrierLabel returns the display label of a carrier element name.
func (v *Vocabulary) CarrierLabel(el string) string {
	if label, ok := v.carriers[el]; ok {
		return label
	}
	return el
}

// IsStatic reports whether el is a static endpoint element.
func (v *Vocabulary) IsStatic(el string) bool { return v.static[el] }

// CarrierElements returns the tracked carrier element names, sorted.
func (v *Vocabulary) CarrierElements() []string {
	out := make([]string, 0, len(v.carriers))
	for el := range v.carriers {
		out = append(out, el)
	}
	sort.Strings(out)
	return out
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
