package spawner

import (
	"strconv"
	"strings"

	"github.com/valyala/fasttemplate"
)

// ExpandArgs substitutes {port} and {addr} in tpl and
// splits the result on whitespace. Unknown placeholders
// are left as-is.
func ExpandArgs(
	tpl string,
	port uint16,
	addr string,
) []string {
	vars := map[string]interface{}{
		"port": strconv.Itoa(int(port)),
		"addr": addr,
	}

	return strings.Fields(
		fasttemplate.ExecuteStringStd(tpl, "{", "}", vars),
	)
}
