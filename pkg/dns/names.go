package dns

import (
	"strings"

	"github.com/quarrystor/quarry/pkg/types"
)

// parseServiceQuery recognizes service discovery names of the form
// _<role>._tcp (domain already stripped) and maps the role label to a
// component type
//
// Supports:
//   - _sds._tcp -> SDS data-plane targets
//   - _mdm._tcp -> MDM control-plane targets
//   - _sdc._tcp -> SDC client hosts
func parseServiceQuery(name string) (types.ComponentType, bool) {
	labels := strings.Split(name, ".")
	if len(labels) != 2 || labels[1] != "_tcp" {
		return "", false
	}
	switch labels[0] {
	case "_sds":
		return types.ComponentSDS, true
	case "_mdm":
		return types.ComponentMDM, true
	case "_sdc":
		return types.ComponentSDC, true
	default:
		return "", false
	}
}

// makeServiceQuery builds the discovery name for a role:
// makeServiceQuery(types.ComponentSDS) -> "_sds._tcp"
func makeServiceQuery(role types.ComponentType) string {
	return "_" + strings.ToLower(string(role)) + "._tcp"
}
