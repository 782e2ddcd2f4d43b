package signing

import (
	"context"

	"apolice-backend/internal/domain"
	"apolice-backend/internal/infrastructure/d4sign"
)

// Provider is the e-signature service, implemented by *d4sign.Client.
type Provider interface {
	Upload(ctx context.Context, name string, pdf []byte) (string, error)
	RegisterSigners(ctx context.Context, docID string, signers []d4sign.Signer) error
	AddFields(ctx context.Context, docID string, fields []d4sign.Field) error
	AutoSign(ctx context.Context, docID string) error
	SendToSigner(ctx context.Context, docID, message string, workflow bool) error
	Download(ctx context.Context, docID string) ([]byte, error)
}

// Renderer turns a signature request into the PDF submitted to the provider.
type Renderer interface {
	Render(ctx context.Context, req *domain.SignatureRequest) ([]byte, error)
}

// InternalSigner is a fixed reviewer or co-signer added to every document.
type InternalSigner struct {
	Email     string
	Act       string
	Certified bool
}
