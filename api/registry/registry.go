// Package registry fetches container image metadata from OCI distribution registries.
package registry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	"gitlab.uncharted.software/WM/analysis-gateway/config"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/errcode"
	"oras.land/oras-go/v2/registry/remote/retry"
)

var (
	// ErrImage is returned for images that cannot be inspected.
	ErrImage = errors.New("image error")
	// ErrManifestUnknown is returned when the registry does not know the image.
	ErrManifestUnknown = errors.New("manifest unknown")
	// ErrAuthenticationRequired is returned when the registry rejects the supplied credentials.
	ErrAuthenticationRequired = errors.New("authentication required")
)

const (
	dockerHub         = "docker.io"
	dockerHubRegistry = "registry-1.docker.io"
	defaultTag        = "latest"

	mediaTypeDockerManifest = "application/vnd.docker.distribution.manifest.v2+json"
)

// Request identifies an image to inspect. Credentials are optional.
type Request struct {
	Image            string
	RegistryUser     string
	RegistryPassword string
	VerifyTLS        bool
}

// Metadata describes an inspected image.
type Metadata struct {
	Image        string            `json:"image"`
	Registry     string            `json:"registry"`
	Repository   string            `json:"repository"`
	Tag          string            `json:"tag,omitempty"`
	Digest       string            `json:"digest"`
	MediaType    string            `json:"media_type"`
	Size         int64             `json:"size"`
	Architecture string            `json:"architecture,omitempty"`
	OS           string            `json:"os,omitempty"`
	Created      *time.Time        `json:"created,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	Env          []string          `json:"env,omitempty"`
}

// Inspector fetches image metadata.
type Inspector interface {
	Metadata(ctx context.Context, req Request) (*Metadata, error)
}

// Client inspects images over the distribution API.
type Client struct {
	config.Config
	timeout time.Duration
	// PlainHTTP talks to registries without TLS.
	PlainHTTP bool
}

// NewClient creates a registry client with the configured timeout.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		Config:  cfg.Named("registry"),
		timeout: time.Duration(cfg.Environment.RegistryTimeoutSec) * time.Second,
	}
}

// reference is a parsed image name.
type reference struct {
	registry   string
	repository string
	tag        string
	digest     string
}

func (r reference) String() string {
	if r.digest != "" {
		return fmt.Sprintf("%s/%s@%s", r.registry, r.repository, r.digest)
	}
	return fmt.Sprintf("%s/%s:%s", r.registry, r.repository, r.tag)
}

func (r reference) ref() string {
	if r.digest != "" {
		return r.digest
	}
	return r.tag
}

// parseReference expands short image names the way container tooling does: an image without a
// registry host comes from Docker Hub, and official Docker Hub images live under library/.
func parseReference(image string) (reference, error) {
	image = strings.TrimSpace(strings.TrimPrefix(image, "docker://"))
	if image == "" {
		return reference{}, errors.Wrap(ErrImage, "no image provided")
	}

	ref := reference{}
	if at := strings.Index(image, "@"); at >= 0 {
		ref.digest = image[at+1:]
		image = image[:at]
	}

	parts := strings.SplitN(image, "/", 2)
	if len(parts) == 2 && (strings.ContainsAny(parts[0], ".:") || parts[0] == "localhost") {
		ref.registry = parts[0]
		image = parts[1]
	} else {
		ref.registry = dockerHub
	}

	if colon := strings.LastIndex(image, ":"); colon >= 0 {
		ref.tag = image[colon+1:]
		image = image[:colon]
	}
	ref.repository = image

	if ref.registry == dockerHub {
		ref.registry = dockerHubRegistry
		if !strings.Contains(ref.repository, "/") {
			ref.repository = "library/" + ref.repository
		}
	}
	if ref.tag == "" && ref.digest == "" {
		ref.tag = defaultTag
	}
	if ref.repository == "" || ref.repository != strings.ToLower(ref.repository) {
		return reference{}, errors.Wrapf(ErrImage, "invalid image name %q", image)
	}
	return ref, nil
}

func (c *Client) repository(ref reference, req Request) (*remote.Repository, error) {
	repo, err := remote.NewRepository(ref.registry + "/" + ref.repository)
	if err != nil {
		return nil, errors.Wrapf(ErrImage, "invalid image %s: %v", req.Image, err)
	}
	repo.PlainHTTP = c.PlainHTTP

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !req.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	credential := auth.EmptyCredential
	if req.RegistryUser != "" {
		credential = auth.Credential{Username: req.RegistryUser, Password: req.RegistryPassword}
	}
	repo.Client = &auth.Client{
		Client: &http.Client{
			Transport: retry.NewTransport(transport),
			Timeout:   c.timeout,
		},
		Cache:      auth.NewCache(),
		Credential: auth.StaticCredential(ref.registry, credential),
	}
	return repo, nil
}

// Metadata resolves the image manifest and, for single platform images, reads its configuration.
func (c *Client) Metadata(ctx context.Context, req Request) (*Metadata, error) {
	ref, err := parseReference(req.Image)
	if err != nil {
		return nil, err
	}
	repo, err := c.repository(ref, req)
	if err != nil {
		return nil, err
	}

	desc, rc, err := repo.FetchReference(ctx, ref.ref())
	if err != nil {
		return nil, classify(err, req.Image)
	}
	defer rc.Close()
	manifestBytes, err := content.ReadAll(rc, desc)
	if err != nil {
		return nil, errors.Wrapf(ErrImage, "failed to read manifest of %s: %v", req.Image, err)
	}
	if err := desc.Digest.Validate(); err != nil {
		return nil, errors.Wrapf(ErrImage, "registry returned an invalid digest for %s: %v", req.Image, err)
	}

	metadata := &Metadata{
		Image:      req.Image,
		Registry:   ref.registry,
		Repository: ref.repository,
		Tag:        ref.tag,
		Digest:     desc.Digest.String(),
		MediaType:  desc.MediaType,
		Size:       desc.Size,
	}
	if desc.MediaType != ocispec.MediaTypeImageManifest && desc.MediaType != mediaTypeDockerManifest {
		// multi platform indexes have no single configuration
		return metadata, nil
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, errors.Wrapf(ErrImage, "malformed manifest of %s: %v", req.Image, err)
	}
	image, err := c.imageConfig(ctx, repo, manifest.Config)
	if err != nil {
		return nil, classify(err, req.Image)
	}

	metadata.Architecture = image.Architecture
	metadata.OS = image.OS
	metadata.Created = image.Created
	metadata.Labels = image.Config.Labels
	metadata.Env = image.Config.Env
	return metadata, nil
}

func (c *Client) imageConfig(ctx context.Context, repo *remote.Repository, desc ocispec.Descriptor) (*ocispec.Image, error) {
	rc, err := repo.Fetch(ctx, desc)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	configBytes, err := content.ReadAll(rc, desc)
	if err != nil {
		return nil, err
	}
	var image ocispec.Image
	if err := json.Unmarshal(configBytes, &image); err != nil {
		return nil, errors.Wrap(err, "malformed image configuration")
	}
	return &image, nil
}

func classify(err error, image string) error {
	if errors.Is(err, errdef.ErrNotFound) {
		return errors.Wrapf(ErrManifestUnknown, "image %s was not found", image)
	}
	var response *errcode.ErrorResponse
	if errors.As(err, &response) {
		switch response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errors.Wrapf(ErrAuthenticationRequired, "registry requires authentication to access %s", image)
		case http.StatusNotFound:
			return errors.Wrapf(ErrManifestUnknown, "image %s was not found", image)
		}
	}
	return errors.Wrapf(ErrImage, "failed to inspect %s: %v", image, err)
}
