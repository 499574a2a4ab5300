package apperrors

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrPoolExhausted         = errors.New("connection pool exhausted")
	ErrInstanceClosed        = errors.New("instance closed")
	ErrMaterializationFailed = errors.New("materialization failed")
	ErrAttachmentFailed      = errors.New("attachment failed")
	ErrIntrospectionFailed   = errors.New("introspection failed")
	ErrPersistenceFailed     = errors.New("persistence failed")
	ErrUnsupportedDatasource = errors.New("unsupported datasource type")
	ErrInvalidQuery          = errors.New("invalid query")
	ErrQueryFailed           = errors.New("query failed")
)
