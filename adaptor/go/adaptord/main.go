// adaptord feeds a directory tree to a search appliance: every regular file
// below filesystem.src becomes a crawlable document.
package main

import (
	"os"

	"github.com/gsa-connectors/adaptor/adaptor/go/app"
)

func main() {
	os.Exit(app.Run(&fsAdaptor{}, os.Args[1:]))
}
