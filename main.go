// The main package for the catalogwh executable.
package main

import (
	"github.com/JakeFAU/catalog-warehouse/cmd"
)

func main() {
	cmd.Execute()
}
