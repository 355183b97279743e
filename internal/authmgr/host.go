package authmgr

import (
	"context"
	"net"
	"os"
)

func osHostname() (string, error) {
	return os.Hostname()
}

type netResolver struct{}

func (netResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, host)
}
