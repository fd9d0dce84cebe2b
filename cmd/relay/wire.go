//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"

	"github.com/dylanallan/genesiswebapp-sub003/internal/biz"
	"github.com/dylanallan/genesiswebapp-sub003/internal/conf"
	"github.com/dylanallan/genesiswebapp-sub003/internal/data"
	"github.com/dylanallan/genesiswebapp-sub003/internal/server"
	"github.com/dylanallan/genesiswebapp-sub003/internal/service"
)

// wireApp init kratos application.
func wireApp(*conf.Bootstrap, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		wire.FieldsOf(new(*conf.Bootstrap),
			"Server", "Data", "Router", "Gateway", "Notify",
			"Breakers", "Providers", "Sources", "UseCases",
		),
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newApp,
	))
}
