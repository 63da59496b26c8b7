package provider

import (
	"context"
	"fmt"

	"github.com/dunamismax/vintagebooth/internal/dataurl"
	"github.com/dunamismax/vintagebooth/internal/domain"
	"github.com/dunamismax/vintagebooth/internal/filter"
)

// Local renders the vintage filter in process. It needs no credentials and
// backs development setups and tests.
type Local struct {
	params filter.Params
}

func NewLocal() *Local {
	return &Local{params: filter.DefaultParams()}
}

func (p *Local) Name() string {
	return NameLocal
}

func (p *Local) Transform(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	img, _, err := filter.Decode(req.Image)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}

	encoded, err := filter.Encode(filter.Vintage(img, p.params), "png", 0)
	if err != nil {
		return Result{}, err
	}
	return Result{
		ImageRef: dataurl.Encode("image/png", encoded),
		MIMEType: "image/png",
	}, nil
}

var _ Provider = (*Local)(nil)
