package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/barnapet/smartdrive/cmd/smartdrive-insights/app"
)

func main() {
	app.NewApp().Run()
}
