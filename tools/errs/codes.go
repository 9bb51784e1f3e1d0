package errs

const (
	ServerInternalError = 500

	ConfigError    = 1001
	TransportError = 1002
	StorageError   = 1003
	BrokerError    = 1004
	AuthError      = 1005
	TokenInvalid   = 1501
	TokenMissing   = 1502
)

var (
	ErrInternal  = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrConfig    = NewCodeError(ConfigError, "ConfigError")
	ErrTransport = NewCodeError(TransportError, "TransportError")
	ErrStorage   = NewCodeError(StorageError, "StorageError")
	ErrBroker    = NewCodeError(BrokerError, "BrokerError")
	ErrAuth      = NewCodeError(AuthError, "AuthError")

	ErrTokenInvalid = NewCodeError(TokenInvalid, "TokenInvalid")
	ErrTokenMissing = NewCodeError(TokenMissing, "TokenMissing")
)

func init() {
	_ = DefaultCodeRelation.Add(AuthError, TokenInvalid)
	_ = DefaultCodeRelation.Add(AuthError, TokenMissing)
}
