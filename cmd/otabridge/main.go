package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/otabridge/cmd/otabridge/app"
)

func main() {
	app.NewApp().Run()
}
