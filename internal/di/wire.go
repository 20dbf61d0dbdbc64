//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"github.com/sandeepkv93/idp-session-core/internal/app"
	"github.com/sandeepkv93/idp-session-core/internal/config"
)

func InitializeApp(cfg *config.Config) (*app.App, func(), error) {
	wire.Build(
		provideTelemetry,
		provideLogger,
		provideObservabilityRuntime,
		storeSet,
		serviceSet,
		provideReadiness,
		provideRouterDependencies,
		provideHTTPServer,
		provideStopBackground,
		app.New,
	)
	return nil, nil, nil
}

func InitializeOperator(cfg *config.Config) (*Operator, func(), error) {
	wire.Build(
		provideTelemetry,
		provideLogger,
		storeSet,
		serviceSet,
		provideOperator,
	)
	return nil, nil, nil
}
