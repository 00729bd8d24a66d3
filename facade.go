package connections

import (
	"fmt"
	"reflect"

	connectionscommand "github.com/goliatone/go-connections/command"
	"github.com/goliatone/go-connections/core"
	connectionsquery "github.com/goliatone/go-connections/query"
)

type CommandQueryService interface {
	connectionscommand.MutatingService
	connectionsquery.CapabilitiesReader
}

type Commands struct {
	Initiate         *connectionscommand.InitiateCommand
	CompleteCallback *connectionscommand.CompleteCallbackCommand
	EnsureToken      *connectionscommand.EnsureTokenCommand
	Disconnect       *connectionscommand.DisconnectCommand
	SweepExpiring    *connectionscommand.SweepExpiringCommand
}

type Queries struct {
	GetConnection   *connectionsquery.GetConnectionQuery
	ListExpiring    *connectionsquery.ListExpiringQuery
	GetCapabilities *connectionsquery.GetCapabilitiesQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	connectionReader connectionsquery.ConnectionReader
}

func WithConnectionReader(reader connectionsquery.ConnectionReader) FacadeOption {
	return func(options *facadeOptions) {
		options.connectionReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("connections: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	reader := cfg.connectionReader
	if reader == nil {
		reader = resolveConnectionReader(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Initiate:         connectionscommand.NewInitiateCommand(service),
		CompleteCallback: connectionscommand.NewCompleteCallbackCommand(service),
		EnsureToken:      connectionscommand.NewEnsureTokenCommand(service),
		Disconnect:       connectionscommand.NewDisconnectCommand(service),
		SweepExpiring:    connectionscommand.NewSweepExpiringCommand(service),
	}
	facade.queries = Queries{
		GetConnection:   connectionsquery.NewGetConnectionQuery(reader),
		ListExpiring:    connectionsquery.NewListExpiringQuery(reader),
		GetCapabilities: connectionsquery.NewGetCapabilitiesQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

func resolveConnectionReader(service CommandQueryService) connectionsquery.ConnectionReader {
	if service == nil {
		return nil
	}
	if reader, ok := service.(connectionsquery.ConnectionReader); ok {
		return reader
	}
	provider, ok := service.(interface {
		Dependencies() core.ServiceDependencies
	})
	if !ok {
		return nil
	}
	deps := provider.Dependencies()
	if deps.ConnectionStore != nil {
		return deps.ConnectionStore
	}
	if deps.RepositoryFactory == nil {
		return nil
	}

	factoryValue := reflect.ValueOf(deps.RepositoryFactory)
	if !factoryValue.IsValid() {
		return nil
	}
	if factoryValue.Kind() == reflect.Ptr && factoryValue.IsNil() {
		return nil
	}
	method := factoryValue.MethodByName("ConnectionStore")
	if !method.IsValid() || method.Type().NumIn() != 0 || method.Type().NumOut() != 1 {
		return nil
	}

	results, ok := safeReflectCall(method)
	if !ok {
		return nil
	}
	if len(results) != 1 {
		return nil
	}
	candidate := results[0]
	if !candidate.IsValid() {
		return nil
	}
	if candidate.Kind() == reflect.Ptr && candidate.IsNil() {
		return nil
	}
	reader, ok := candidate.Interface().(connectionsquery.ConnectionReader)
	if !ok {
		return nil
	}
	return reader
}

func safeReflectCall(method reflect.Value) (_ []reflect.Value, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return method.Call(nil), true
}
