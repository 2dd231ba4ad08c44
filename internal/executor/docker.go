package executor

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/miradorstack/mirador-osint/internal/utils"
)

// ContainerSpec is the hardened container definition for one invocation.
type ContainerSpec struct {
	Name            string
	Image           string
	Cmd             []string
	Env             []string
	User            string
	NetworkDisabled bool
	CPUShares       int64
	MemoryBytes     int64
	PidsLimit       int64
	Labels          map[string]string
}

// ContainerAPI is the narrow slice of the container daemon the runtime depends on.
type ContainerAPI interface {
	Ping(ctx context.Context) error
	ImagePresent(ctx context.Context, ref string) (bool, error)
	PullImage(ctx context.Context, ref string) error
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	CopyFile(ctx context.Context, id, dir, name string, data []byte) error
	StartContainer(ctx context.Context, id string) error
	WaitContainer(ctx context.Context, id string) (int, error)
	ContainerLogs(ctx context.Context, id string, stdout, stderr io.Writer) error
	KillContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string) error
	RemoveImage(ctx context.Context, ref string) error
	Close() error
}

// DockerAPI implements ContainerAPI with the Docker Engine SDK.
type DockerAPI struct {
	cli *client.Client
}

// NewDockerAPI connects to the daemon from DOCKER_HOST (or host when set) with API version negotiation.
func NewDockerAPI(host string) (*DockerAPI, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerAPI{cli: cli}, nil
}

// Ping checks daemon reachability.
func (d *DockerAPI) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return translate(err)
	}
	return nil
}

// ImagePresent reports whether ref is available locally.
func (d *DockerAPI) ImagePresent(ctx context.Context, ref string) (bool, error) {
	if _, err := d.cli.ImageInspect(ctx, ref); err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, translate(err)
	}
	return true, nil
}

type pullMessage struct {
	Error string `json:"error"`
}

// PullImage pulls ref and drains the progress stream, surfacing in-stream errors.
func (d *DockerAPI) PullImage(ctx context.Context, ref string) error {
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return translate(err)
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	for {
		var msg pullMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read pull progress: %w", err)
		}
		if msg.Error != "" {
			return errors.New(msg.Error)
		}
	}
}

// CreateContainer creates (but does not start) a hardened container.
func (d *DockerAPI) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	pids := spec.PidsLimit
	cfg := &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		Env:             spec.Env,
		User:            spec.User,
		Labels:          spec.Labels,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: spec.NetworkDisabled,
	}
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode("bridge"),
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges:true"},
		Resources: container.Resources{
			CPUShares:  spec.CPUShares,
			Memory:     spec.MemoryBytes,
			MemorySwap: spec.MemoryBytes,
			PidsLimit:  &pids,
		},
	}
	if spec.NetworkDisabled {
		hostCfg.NetworkMode = container.NetworkMode("none")
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", translate(err)
	}
	return resp.ID, nil
}

// CopyFile places a single file into the container filesystem before start.
func (d *DockerAPI) CopyFile(ctx context.Context, id, dir, name string, data []byte) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o444,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("tar close: %w", err)
	}
	if err := d.cli.CopyToContainer(ctx, id, dir, &buf, container.CopyToContainerOptions{}); err != nil {
		return translate(err)
	}
	return nil
}

// StartContainer starts a created container.
func (d *DockerAPI) StartContainer(ctx context.Context, id string) error {
	return translate(d.cli.ContainerStart(ctx, id, container.StartOptions{}))
}

// WaitContainer blocks until the container stops and returns its exit code.
func (d *DockerAPI) WaitContainer(ctx context.Context, id string) (int, error) {
	statusCh, errCh := d.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, translate(err)
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return int(status.StatusCode), fmt.Errorf("wait container: %s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// ContainerLogs demultiplexes the container's stdout and stderr into the supplied writers.
func (d *DockerAPI) ContainerLogs(ctx context.Context, id string, stdout, stderr io.Writer) error {
	rc, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return translate(err)
	}
	defer rc.Close()
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil {
		return fmt.Errorf("read container logs: %w", err)
	}
	return nil
}

// KillContainer sends SIGKILL.
func (d *DockerAPI) KillContainer(ctx context.Context, id string) error {
	return translate(d.cli.ContainerKill(ctx, id, "SIGKILL"))
}

// RemoveContainer force-removes the container and its anonymous volumes.
func (d *DockerAPI) RemoveContainer(ctx context.Context, id string) error {
	err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && errdefs.IsNotFound(err) {
		return nil
	}
	return translate(err)
}

// RemoveImage deletes an image and its untagged parents.
func (d *DockerAPI) RemoveImage(ctx context.Context, ref string) error {
	_, err := d.cli.ImageRemove(ctx, ref, image.RemoveOptions{Force: true, PruneChildren: true})
	if err != nil && errdefs.IsNotFound(err) {
		return nil
	}
	return translate(err)
}

// Close releases the client transport.
func (d *DockerAPI) Close() error {
	return d.cli.Close()
}

// translate maps transport failures onto ErrDaemonUnavailable so hybrid mode can fall back.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrConnectionFailed(err) {
		return fmt.Errorf("%w: %v", utils.ErrDaemonUnavailable, err)
	}
	return err
}
