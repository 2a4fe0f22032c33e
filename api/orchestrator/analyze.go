package orchestrator

import (
	"context"

	"github.com/pkg/errors"
	"gitlab.uncharted.software/WM/analysis-gateway/api/fingerprint"
	"gitlab.uncharted.software/WM/analysis-gateway/api/registry"
	"gitlab.uncharted.software/WM/analysis-gateway/api/scheduler"
	"gitlab.uncharted.software/WM/analysis-gateway/api/storage"
)

// ImageMetadata inspects an image in its registry.
func (o *Orchestrator) ImageMetadata(ctx context.Context, req *ImageMetadataRequest) (*registry.Metadata, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	metadata, err := o.Registry.Metadata(ctx, req.registryRequest())
	if err != nil {
		return nil, registryError(err, req.Parameters())
	}
	return metadata, nil
}

func registryError(err error, parameters map[string]interface{}) error {
	switch {
	case errors.Is(err, registry.ErrAuthenticationRequired):
		return newError(KindUnauthorized, parameters, "%v", err)
	case errors.Is(err, registry.ErrManifestUnknown), errors.Is(err, registry.ErrImage):
		return newError(KindInvalidInput, parameters, "%v", err)
	}
	return err
}

// AnalyzeImage schedules an analysis of the image unless one was already scheduled for the same
// image content and parameters. The registry is always queried so that authentication problems
// are reported even for cached analyses.
func (o *Orchestrator) AnalyzeImage(ctx context.Context, req *AnalysisRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	parameters := req.Parameters()

	metadata, err := o.Registry.Metadata(ctx, req.metadataRequest().registryRequest())
	if err != nil {
		return nil, registryError(err, parameters)
	}

	parametersFingerprint, err := fingerprint.Compute(req.fingerprinted())
	if err != nil {
		return nil, err
	}
	key := fingerprint.WithContent(metadata.Digest, parametersFingerprint)

	store := o.Caches.Analyses
	analysisID, cached, err := o.memoize(ctx, store, key, o.AnalysisCacheExpiration(), req.Force, func(ctx context.Context) (string, error) {
		analysisID, err := o.dispatch(ctx, scheduler.JobRequest{
			Operation:  o.packageExtract,
			Parameters: parameters,
			Secrets:    credentialSecrets(req.RegistryUser, req.RegistryPassword),
			Debug:      req.Debug,
		}, store, key)
		if err != nil {
			return "", err
		}
		err = o.AnalysisByDigest.Store(ctx, metadata.Digest, map[string]interface{}{
			"analysis_id": analysisID,
			"image":       req.Image,
			"digest":      metadata.Digest,
			"parameters":  parameters,
		})
		if err != nil {
			return "", err
		}
		return analysisID, nil
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{AnalysisID: analysisID, Cached: cached, Parameters: parameters}, nil
}

// AnalysisForDigest returns the handle of the latest analysis scheduled for an image digest.
func (o *Orchestrator) AnalysisForDigest(ctx context.Context, digest string) (string, error) {
	parameters := map[string]interface{}{"image_hash": digest}
	record, err := o.AnalysisByDigest.Retrieve(ctx, digest)
	if errors.Is(err, storage.ErrNotFound) {
		return "", newError(KindNotFound, parameters,
			"No analysis was performed for image described by the given image hash")
	}
	if err != nil {
		return "", err
	}
	analysisID, _ := record["analysis_id"].(string)
	if analysisID == "" {
		return "", errors.Errorf("digest index record of %s has no analysis id", digest)
	}
	return analysisID, nil
}
