package service

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

// ReadServerBinary reads the local server binary in full.
func ReadServerBinary(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(KindDeployment, "read server binary", "", err)
	}
	return data, nil
}

// Deployer pushes the scrcpy server onto a device.
type Deployer struct {
	RemotePath string
}

func NewDeployer(remotePath string) *Deployer {
	return &Deployer{RemotePath: remotePath}
}

// Push writes binary to RemotePath as a single chunk, overwriting any
// previous copy.
func (d *Deployer) Push(ctx context.Context, session *Session, binary []byte) error {
	serial := session.Serial()
	log.Info().Str("serial", serial).Int("bytes", len(binary)).Msgf("📦 [%s] Pushing scrcpy-server...", serial)

	command := fmt.Sprintf("cat > '%s'", d.RemotePath)
	if err := session.Conn.ExecIn(ctx, command, binary); err != nil {
		return newError(KindDeployment, "push server", serial, err)
	}

	log.Info().Str("serial", serial).Msgf("✅ [%s] Server pushed successfully", serial)
	return nil
}

// PushFile reads path and pushes it.
func (d *Deployer) PushFile(ctx context.Context, session *Session, path string) error {
	binary, err := ReadServerBinary(path)
	if err != nil {
		return err
	}
	return d.Push(ctx, session, binary)
}
