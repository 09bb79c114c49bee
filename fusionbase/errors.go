package fusionbase

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/fusionbase/fusionbase-go/internal/fetch"
)

// Error sentinel values for platform and configuration failures.
var (
	// ErrNotAuthorized indicates the API key lacks entitlement for the
	// requested resource. This aborts a whole fetch: every partition
	// request would fail the same way.
	ErrNotAuthorized = errors.New("fusionbase: not authorized to access this resource")

	// ErrUnauthenticated indicates the API key could not be validated.
	ErrUnauthenticated = errors.New("fusionbase: could not validate credentials")

	// ErrStreamNotFound indicates the data stream does not exist.
	ErrStreamNotFound = errors.New("fusionbase: data stream does not exist")

	// ErrVersionNotFound indicates the requested data version does not exist.
	ErrVersionNotFound = errors.New("fusionbase: data version does not exist")

	// ErrNoStreamsFound indicates a lookup matched no data streams.
	ErrNoStreamsFound = errors.New("fusionbase: no data streams found")

	// ErrServer indicates a generic server-side failure.
	ErrServer = errors.New("fusionbase: server error")

	// ErrUnsupportedInput indicates rejected upload data.
	ErrUnsupportedInput = errors.New("fusionbase: input not supported for this data stream operation")

	// ErrInvalidParameter indicates the server rejected a request parameter.
	ErrInvalidParameter = errors.New("fusionbase: invalid parameter")

	// ErrInvalidWindow indicates a bad skip/limit combination. Raised before
	// any network call.
	ErrInvalidWindow = errors.New("fusionbase: invalid skip/limit window")

	// ErrUnsupportedResultType indicates a result type with no encoder in
	// this environment. Raised before any network call.
	ErrUnsupportedResultType = errors.New("fusionbase: result type not supported in this environment")
)

// apiDetail is one entry of the platform's error payload.
type apiDetail struct {
	Loc  any    `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

type apiError struct {
	Detail []apiDetail `json:"detail"`
}

// evaluate maps a non-200 response onto a sentinel error. The platform
// signals errors as a detail list whose msg/type pairs identify the
// condition; unknown pairs produce a generic error carrying the message.
func evaluate(status int, body []byte) error {
	if status == http.StatusOK {
		return nil
	}

	var payload apiError
	if err := jsonCodec.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return fmt.Errorf("fusionbase: unexpected status %d", status)
	}

	d := payload.Detail[0]
	switch d.Type {
	case "authorization_error.missing":
		return ErrNotAuthorized
	case "authentication_error.missing":
		return ErrUnauthenticated
	case "value_error.all":
		return ErrServer
	case "value_error.invalid":
		return fmt.Errorf("%w: %s", ErrInvalidParameter, d.Msg)
	case "data_warning.empty":
		switch d.Msg {
		case "This data stream does not exist.":
			return ErrStreamNotFound
		case "The data version you provided does not exist.":
			return ErrVersionNotFound
		case "We could not find any data streams.":
			return ErrNoStreamsFound
		case "The input data you provided is not supported for creating a data stream.":
			return ErrUnsupportedInput
		}
	}
	return fmt.Errorf("fusionbase: request failed with status %d: %s (%s)", status, d.Msg, d.Type)
}

// classify adapts evaluate for the partition fetcher: authorization errors
// become terminal and stop the whole fetch, everything else stays
// partition-local.
func classify(status int, body []byte) error {
	err := evaluate(status, body)
	if errors.Is(err, ErrNotAuthorized) || errors.Is(err, ErrUnauthenticated) {
		return fetch.Terminal(err)
	}
	return err
}
