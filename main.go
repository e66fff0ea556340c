// Command harvester discovers catalog pages and extracts records from them.
package main

import (
	"os"

	"github.com/JakeFAU/catalog-harvester/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
