package codeexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/choreoctl/choreo/pkg/program"
)

var placeholderPattern = regexp.MustCompile(`\{step\.(\w+)\}`)

// substitutePlaceholders replaces `{step.field}` occurrences in source
// with the corresponding StepVars value for the shell-command path
// (the ScriptExecutor instead binds `step` as a real JS object).
func substitutePlaceholders(source string, vars StepVars) string {
	return placeholderPattern.ReplaceAllStringFunc(source, func(m string) string {
		field := placeholderPattern.FindStringSubmatch(m)[1]
		switch field {
		case "stepId":
			return vars.StepID
		case "name":
			return vars.Name
		case "trackId":
			return vars.TrackID
		case "status":
			return vars.Status
		case "priority":
			return strconv.Itoa(vars.Priority)
		case "taskTypes":
			return strings.Join(vars.TaskTypes, ",")
		default:
			return m
		}
	})
}

// DockerRuntime configures ShellExecutor to run commands inside an
// ephemeral container instead of the host shell.
type DockerRuntime struct {
	Client *client.Client
	Image  string
	// Platform, if non-zero, constrains the image pull to a specific
	// OS/architecture (e.g. for a step authored on one CI runner type
	// but scheduled to run on another).
	Platform ocispec.Platform
	// PortBindings optionally exposes container ports on the host,
	// for shell steps that start a long-lived listener as part of
	// their work rather than a one-shot command.
	PortBindings nat.PortMap
}

// ShellExecutor runs a ShellCommand code block with os/exec, or —
// when Docker is set — inside an ephemeral container via the Docker
// Engine API.
type ShellExecutor struct {
	Docker *DockerRuntime
	// Shell is the interpreter invoked as `shell -c <command>`.
	// Defaults to "sh".
	Shell string
	run func(ctx context.Context, shell, command string) (Result, error)
}

// NewShellExecutor returns a ShellExecutor that runs commands with the
// host's "sh".
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{Shell: "sh"}
}

func (e *ShellExecutor) shell() string {
	if e.Shell != "" {
		return e.Shell
	}
	return "sh"
}

// Execute runs source (after `{step.field}` substitution) as a shell
// command, locally or in a container per Docker.
func (e *ShellExecutor) Execute(ctx context.Context, kind program.CodeBlockKind, source string, vars StepVars) (Result, error) {
	command := substitutePlaceholders(source, vars)
	if e.Docker != nil {
		return e.runInContainer(ctx, command)
	}
	if e.run != nil {
		return e.run(ctx, e.shell(), command)
	}
	return runLocal(ctx, e.shell(), command)
}

func platformString(p ocispec.Platform) string {
	if p.OS == "" {
		return ""
	}
	if p.Variant != "" {
		return fmt.Sprintf("%s/%s/%s", p.OS, p.Architecture, p.Variant)
	}
	return fmt.Sprintf("%s/%s", p.OS, p.Architecture)
}

func runLocal(ctx context.Context, shell, command string) (Result, error) {
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Result{Output: stdout.String(), Error: stderr.String()}, err
	}
	return Result{Output: stdout.String()}, nil
}

func (e *ShellExecutor) ensureImage(ctx context.Context) error {
	cli := e.Docker.Client
	if _, _, err := cli.ImageInspectWithRaw(ctx, e.Docker.Image); err == nil {
		return nil
	}
	rc, err := cli.ImagePull(ctx, e.Docker.Image, image.PullOptions{Platform: platformString(e.Docker.Platform)})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", e.Docker.Image, err)
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)
	return nil
}

func (e *ShellExecutor) runInContainer(ctx context.Context, command string) (Result, error) {
	cli := e.Docker.Client
	if err := e.ensureImage(ctx); err != nil {
		return Result{}, err
	}

	hostConfig := &container.HostConfig{}
	if e.Docker.PortBindings != nil {
		hostConfig.PortBindings = e.Docker.PortBindings
	}

	created, err := cli.ContainerCreate(ctx, &container.Config{
		Image: e.Docker.Image,
		Cmd:   []string{e.shell(), "-c", command},
	}, hostConfig, nil, nil, "")
	if err != nil {
		return Result{}, fmt.Errorf("create container: %w", err)
	}
	defer func() {
		_ = cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
	}()

	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return Result{}, fmt.Errorf("start container: %w", err)
	}

	statusCh, errCh := cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return Result{}, fmt.Errorf("wait for container: %w", err)
		}
	case <-statusCh:
	}

	logs, err := cli.ContainerLogs(ctx, created.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return Result{}, fmt.Errorf("read container logs: %w", err)
	}
	defer logs.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(logs)
	return Result{Output: buf.String()}, nil
}
