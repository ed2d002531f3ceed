// @title API Template
// @version 1.0
// @description Account registration, login, password reset and email confirmation behind a session-token gate.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type 'Bearer YOUR_JWT_TOKEN' to authorize
package main

import (
	"os"

	"github.com/code-runner-lcs/api-template-go/cli"
)

func main() {
	os.Exit(cli.Execute())
}
