package entity

// This file contains the auxiliary steps of embedded boots: programming the
// vxWorks boot redirector and staging RTEMS images for TFTP.

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
)

// Redirector keeps the boot path a vxWorks board is served in step with the
// IOC image under test, using the configure-ioc tool.
type Redirector struct {
	Tool     string
	Interval time.Duration
	Timeout  time.Duration

	// run executes a shell command and returns its stdout.
	run func(ctx context.Context, command string) (string, error)
}

// NewRedirector returns a Redirector with the defaults of the site tooling.
func NewRedirector() *Redirector {
	return &Redirector{
		Tool:     "configure-ioc",
		Interval: 2 * time.Second,
		Timeout:  100 * time.Second,
		run:      shellOutput,
	}
}

func shellOutput(ctx context.Context, command string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("failed to run %q: %w (stderr: %s)", command, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (r *Redirector) show(ctx context.Context, name string) (string, error) {
	out, err := r.run(ctx, r.Tool+" show "+shellescape.Quote(name))
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) < 2 {
		return "", nil
	}
	return fields[1], nil
}

// Program points the redirector entry of ioc at dir/image and polls until
// the redirector reports the new path or the timeout elapses. It reports
// whether the path took effect.
func (r *Redirector) Program(ctx context.Context, env Env, ioc, dir, image string) (bool, error) {
	want, err := filepath.Abs(filepath.Join(dir, image))
	if err != nil {
		return false, fmt.Errorf("failed to resolve boot image path: %w", err)
	}
	logger := env.Logger().With().Str("entity", ioc).Str("path", want).Logger()

	now, err := r.show(ctx, ioc)
	if err != nil {
		return false, err
	}
	if now == want {
		logger.Debug().Msg("Redirector already up to date")
		return true, nil
	}

	logger.Info().Str("current", now).Msg("Programming redirector")
	if _, err := r.run(ctx, r.Tool+" edit "+shellescape.QuoteCommand([]string{ioc, want})); err != nil {
		return false, err
	}
	for remaining := r.Timeout; ; remaining -= r.Interval {
		if now, err = r.show(ctx, ioc); err != nil {
			return false, err
		}
		if now == want {
			return true, nil
		}
		if remaining <= 0 {
			break
		}
		if err := pause(ctx, r.Interval); err != nil {
			return false, err
		}
	}
	logger.Warn().Str("current", now).Msg("Redirector did not update")
	return false, nil
}

// ImageUploader copies local files into a directory on the TFTP server.
type ImageUploader interface {
	Upload(ctx context.Context, localPaths []string, remoteDir string) error
}

// RTEMSBoot describes how an RTEMS board loads its image over TFTP.
type RTEMSBoot struct {
	// Prompt is printed by the board monitor when it is ready for input.
	Prompt     string
	PromptWait time.Duration

	ClientIP string
	ServerIP string
	Gateway  string
	Netmask  string

	// Images are glob patterns, relative to the IOC directory, of the files
	// to copy into TFTPDir.
	Images   []string
	TFTPDir  string
	LoadPath string
	Uploader ImageUploader
}

func (b *RTEMSBoot) setDefaults() {
	if b.Prompt == "" {
		b.Prompt = "MVME5500>"
	}
	if b.PromptWait == 0 {
		b.PromptWait = 60 * time.Second
	}
	if len(b.Images) == 0 {
		b.Images = []string{"base/bin/RTEMS-mvme5500/rtemsTestHarness*"}
	}
	if b.TFTPDir == "" {
		b.TFTPDir = "/tftpboot/rtems"
	}
	if b.LoadPath == "" {
		b.LoadPath = "rtems"
	}
}

func (b *RTEMSBoot) loadCommand(image string) string {
	return fmt.Sprintf("tftpGet -c%s -s%s -g%s -m%s -f%s/%s\r",
		b.ClientIP, b.ServerIP, b.Gateway, b.Netmask, b.LoadPath, image)
}

// stage copies the boot images to the TFTP server.
func (b *RTEMSBoot) stage(ctx context.Context, env Env, dir string) error {
	logger := env.Logger()
	if b.Uploader == nil {
		logger.Warn().Msg("No image uploader configured, assuming the image is already staged")
		return nil
	}
	var files []string
	for _, pattern := range b.Images {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return fmt.Errorf("invalid image pattern %q: %w", pattern, err)
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return fmt.Errorf("no boot image matches %v in %s", b.Images, dir)
	}
	logger.Info().Strs("files", files).Str("dir", b.TFTPDir).Msg("Staging boot image")
	return b.Uploader.Upload(ctx, files, b.TFTPDir)
}
