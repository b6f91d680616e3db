package main

import "github.com/arisu-i18n/arisu/cmd/server/cmd"

func main() {
	cmd.Execute()
}
