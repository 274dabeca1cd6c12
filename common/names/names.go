// Package names holds application process naming information (APNI), the
// four-part name that identifies applications and IPC processes.
package names

import (
	"strings"

	"github.com/your-org/rina-stack/common/rerr"
)

// APNI identifies an application process. ProcessName is required; the
// remaining components may be empty.
type APNI struct {
	ProcessName     string `yaml:"process_name" json:"processName"`
	ProcessInstance string `yaml:"process_instance" json:"processInstance,omitempty"`
	EntityName      string `yaml:"entity_name" json:"entityName,omitempty"`
	EntityInstance  string `yaml:"entity_instance" json:"entityInstance,omitempty"`
}

// New builds an APNI from its four components.
func New(apName, apInstance, aeName, aeInstance string) APNI {
	return APNI{
		ProcessName:     apName,
		ProcessInstance: apInstance,
		EntityName:      aeName,
		EntityInstance:  aeInstance,
	}
}

// Validate checks that the name is usable: the process name must be non-empty
// and no component may contain the encoding separator.
func (a APNI) Validate() error {
	if a.ProcessName == "" {
		return rerr.New(rerr.KindRequiredFieldMissing, "process name is empty")
	}
	for _, c := range []string{a.ProcessName, a.ProcessInstance, a.EntityName, a.EntityInstance} {
		if strings.ContainsRune(c, '|') {
			return rerr.New(rerr.KindInvalidField, "name component contains reserved separator: %q", c)
		}
	}
	return nil
}

// IsZero reports whether the name is entirely empty.
func (a APNI) IsZero() bool {
	return a.ProcessName == "" && a.ProcessInstance == "" &&
		a.EntityName == "" && a.EntityInstance == ""
}

// Equal compares names componentwise.
func (a APNI) Equal(b APNI) bool { return a == b }

// Key returns the canonical encoded form used as a map key:
// the four components joined by '|'.
func (a APNI) Key() string {
	return a.ProcessName + "|" + a.ProcessInstance + "|" + a.EntityName + "|" + a.EntityInstance
}

// ParseKey rebuilds an APNI from its canonical encoded form.
func ParseKey(key string) (APNI, error) {
	parts := strings.Split(key, "|")
	if len(parts) != 4 {
		return APNI{}, rerr.New(rerr.KindInvalidField, "malformed name key: %q", key)
	}
	return APNI{
		ProcessName:     parts[0],
		ProcessInstance: parts[1],
		EntityName:      parts[2],
		EntityInstance:  parts[3],
	}, nil
}

// String renders the name in the conventional process-name-instance form,
// omitting empty components.
func (a APNI) String() string {
	var sb strings.Builder
	sb.WriteString(a.ProcessName)
	if a.ProcessInstance != "" {
		sb.WriteString("-")
		sb.WriteString(a.ProcessInstance)
	}
	if a.EntityName != "" {
		sb.WriteString("-")
		sb.WriteString(a.EntityName)
	}
	if a.EntityInstance != "" {
		sb.WriteString("-")
		sb.WriteString(a.EntityInstance)
	}
	return sb.String()
}
