package funcflow

import (
	"context"

	runtimepkg "github.com/drblury/funcflow/internal/runtime"
	clientpkg "github.com/drblury/funcflow/internal/runtime/client"
	configpkg "github.com/drblury/funcflow/internal/runtime/config"
	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/funcflow/internal/runtime/handlers"
	idspkg "github.com/drblury/funcflow/internal/runtime/ids"
	"github.com/drblury/funcflow/internal/runtime/invocation"
	jsoncodec "github.com/drblury/funcflow/internal/runtime/jsoncodec"
	"github.com/drblury/funcflow/internal/runtime/localserver"
	loggingpkg "github.com/drblury/funcflow/internal/runtime/logging"
	metricspkg "github.com/drblury/funcflow/internal/runtime/metrics"
	transportpkg "github.com/drblury/funcflow/transport"
	"google.golang.org/protobuf/proto"
)

type (
	Config          = configpkg.Config
	GeneralConfig   = configpkg.General
	LifecycleConfig = configpkg.Lifecycle
	RuntimeEngine   = configpkg.RuntimeEngine
	LocalConfig     = configpkg.Local
	BridgeConfig    = configpkg.Bridge

	Handler                        = handlerpkg.Handler
	HandlerFunc                    = handlerpkg.HandlerFunc
	Factory                        = handlerpkg.Factory
	Shutdowner                     = handlerpkg.Shutdowner
	TypedHandler[In any, Out any]  = handlerpkg.TypedHandler[In, Out]
	SimpleHandler[In any, Out any] = handlerpkg.SimpleHandler[In, Out]
	Codec[T any]                   = handlerpkg.Codec[T]
	JSONCodec[T any]               = handlerpkg.JSONCodec[T]
	BytesCodec                     = handlerpkg.BytesCodec
	StringCodec                    = handlerpkg.StringCodec
	ProtoCodec[T proto.Message]    = handlerpkg.ProtoCodec[T]
	Invocation                     = invocation.Invocation
	InvocationContext              = invocation.Context
	InitializationContext          = invocation.InitializationContext
	ShutdownContext                = invocation.ShutdownContext
	Resources                      = invocation.Resources

	Lifecycle       = runtimepkg.Lifecycle
	LifecycleOption = runtimepkg.LifecycleOption
	LifecycleState  = runtimepkg.State
	Runner          = runtimepkg.Runner
	RunnerOption    = runtimepkg.RunnerOption
	RuntimeClient   = runtimepkg.RuntimeClient
	Client          = clientpkg.Client
	ClientOptions   = clientpkg.Options

	InvocationHooks = runtimepkg.InvocationHooks
	InvocationInfo  = runtimepkg.InvocationInfo
	Metrics         = metricspkg.Metrics

	LocalServer           = localserver.Server
	LocalServerOptions    = localserver.Options
	LocalServerState      = localserver.State
	Bridge                = localserver.Bridge
	InvocationFailedError = localserver.InvocationFailedError
	ErrorPayload          = localserver.ErrorPayload

	Transport         = transportpkg.Transport
	TransportBuilder  = transportpkg.Builder
	TransportConfig   = transportpkg.Config
	TransportRegistry = transportpkg.Registry

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	UpstreamError         = errspkg.UpstreamError
	BadStatusCodeError    = errspkg.BadStatusCodeError
	MissingHeaderError    = errspkg.MissingHeaderError
	DecodingError         = errspkg.DecodingError
	EncodingError         = errspkg.EncodingError
	HandlerPanicError     = errspkg.HandlerPanicError
	InitializationError   = errspkg.InitializationError
	ShutdownError         = errspkg.ShutdownError
	StateError            = errspkg.StateError
	ConfigValidationError = errspkg.ConfigValidationError
)

const (
	StateIdle         = runtimepkg.StateIdle
	StateInitializing = runtimepkg.StateInitializing
	StateActive       = runtimepkg.StateActive
	StateShuttingDown = runtimepkg.StateShuttingDown
	StateShutdown     = runtimepkg.StateShutdown

	BridgeStatusOK    = localserver.StatusOK
	BridgeStatusError = localserver.StatusError
)

var (
	DefaultConfig    = configpkg.Default
	LoadConfig       = configpkg.Load
	ConfigFromLookup = configpkg.FromLookup
	ConfigForTesting = configpkg.ForTesting

	NewLifecycle      = runtimepkg.NewLifecycle
	NewRunner         = runtimepkg.NewRunner
	NewClient         = clientpkg.New
	WithRuntimeClient = runtimepkg.WithRuntimeClient
	WithRunnerOptions = runtimepkg.WithRunnerOptions
	WithRunnerHooks   = runtimepkg.WithRunnerHooks
	WithTracer        = runtimepkg.WithTracer

	Static         = handlerpkg.Static
	LoggingHooks   = runtimepkg.LoggingHooks
	MetricsHooks   = runtimepkg.MetricsHooks
	NewMetrics     = metricspkg.New
	FromContext    = invocation.FromContext
	NewLocalServer = localserver.New
	NewBridge      = localserver.NewBridge

	DefaultTransportRegistry = transportpkg.DefaultRegistry
	RegisterTransport        = transportpkg.Register
	BuildTransport           = transportpkg.Build

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrHandlerRequired = errspkg.ErrHandlerRequired
	ErrFactoryRequired = errspkg.ErrFactoryRequired
	ErrConfigRequired  = errspkg.ErrConfigRequired
	ErrLoggerRequired  = errspkg.ErrLoggerRequired
	ErrClientRequired  = errspkg.ErrClientRequired
	ErrNoBody          = errspkg.ErrNoBody
	ErrCancelled       = errspkg.ErrCancelled
	ErrStillRunning    = errspkg.ErrStillRunning
	ErrServerShutdown  = errspkg.ErrServerShutdown

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewLeveledLogger     = loggingpkg.NewLeveledLogger
	NewWatermillAdapter  = loggingpkg.NewWatermillAdapter
	DiscardLogger        = loggingpkg.Discard

	CreateULID = idspkg.CreateULID
)

// Typed adapts a TypedHandler to the raw Handler contract.
func Typed[In any, Out any](h TypedHandler[In, Out]) Handler {
	return handlerpkg.Typed(h)
}

// Simple builds a Factory from a SimpleHandler constructor and two codecs.
func Simple[In any, Out any](newHandler func() SimpleHandler[In, Out], in Codec[In], out Codec[Out]) Factory {
	return handlerpkg.Simple(newHandler, in, out)
}

// NewCodecHandler builds a TypedHandler from two codecs and a function.
func NewCodecHandler[In any, Out any](in Codec[In], out Codec[Out], fn func(ctx context.Context, in In) (Out, error)) TypedHandler[In, Out] {
	return handlerpkg.NewCodecHandler(in, out, fn)
}

// JSONFunc is shorthand for a static handler that decodes and encodes JSON.
func JSONFunc[In any, Out any](fn func(ctx context.Context, in In) (Out, error)) Factory {
	return Static(Typed(NewCodecHandler[In, Out](JSONCodec[In]{}, JSONCodec[Out]{}, fn)))
}

// NewProtoCodec returns a Codec for protobuf messages of the prototype's type.
func NewProtoCodec[T proto.Message](prototype T) (*ProtoCodec[T], error) {
	return handlerpkg.NewProtoCodec(prototype)
}
