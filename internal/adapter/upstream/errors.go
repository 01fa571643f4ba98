package upstream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"syscall"

	"github.com/couchcryptid/opendata-relay/internal/domain"
)

// classify maps a failed exchange onto the transport error taxonomy.
func classify(err error) *domain.TransportError {
	return &domain.TransportError{Kind: kindOf(err), Err: err}
}

func kindOf(err error) domain.TransportKind {
	var (
		netErr      net.Error
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
		recordErr   tls.RecordHeaderError
	)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.TransportTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return domain.TransportConnectionRefused
	case errors.As(err, &verifyErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostErr),
		errors.As(err, &invalidErr),
		errors.As(err, &recordErr):
		return domain.TransportTLS
	case errors.As(err, &netErr) && netErr.Timeout():
		return domain.TransportTimeout
	default:
		return domain.TransportOther
	}
}
