package orchestrator

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gitlab.uncharted.software/WM/analysis-gateway/api/registry"
	"gitlab.uncharted.software/WM/analysis-gateway/api/stack"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report fields by their wire names
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError turns validator failures into a client facing error.
func validationError(err error, parameters map[string]interface{}) *Error {
	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return newError(KindInvalidInput, parameters, "Invalid request: %v", err)
	}
	problems := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		problems = append(problems, describe(fe))
	}
	return newError(KindInvalidInput, parameters, "Invalid request: %s", strings.Join(problems, "; "))
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_with":
		return "registry_user and registry_password must be supplied together"
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		if fe.Kind() == reflect.Map || fe.Kind() == reflect.Slice || fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must not be empty", field)
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed the %s check", field, fe.Tag())
	}
}

func verifyTLS(value *bool) bool {
	return value == nil || *value
}

// credentials are handed to jobs as a secret, never as a parameter
func credentialSecrets(user string, password string) map[string]string {
	if user == "" {
		return nil
	}
	return map[string]string{"THOTH_REGISTRY_CREDENTIALS": user + ":" + password}
}

// ImageMetadataRequest asks for the registry metadata of an image.
type ImageMetadataRequest struct {
	Image            string `json:"image" validate:"required"`
	RegistryUser     string `json:"registry_user,omitempty" validate:"required_with=RegistryPassword"`
	RegistryPassword string `json:"registry_password,omitempty" validate:"required_with=RegistryUser"`
	VerifyTLS        *bool  `json:"verify_tls,omitempty"`
}

// Parameters returns the request parameters safe to report back.
func (r *ImageMetadataRequest) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"image":      r.Image,
		"verify_tls": verifyTLS(r.VerifyTLS),
	}
}

// Validate checks the request.
func (r *ImageMetadataRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err, r.Parameters())
	}
	return nil
}

func (r *ImageMetadataRequest) registryRequest() registry.Request {
	return registry.Request{
		Image:            r.Image,
		RegistryUser:     r.RegistryUser,
		RegistryPassword: r.RegistryPassword,
		VerifyTLS:        verifyTLS(r.VerifyTLS),
	}
}

// AnalysisRequest asks for an image analysis.
type AnalysisRequest struct {
	Image            string `json:"image" validate:"required"`
	RegistryUser     string `json:"registry_user,omitempty" validate:"required_with=RegistryPassword"`
	RegistryPassword string `json:"registry_password,omitempty" validate:"required_with=RegistryUser"`
	VerifyTLS        *bool  `json:"verify_tls,omitempty"`
	EnvironmentType  string `json:"environment_type,omitempty" validate:"omitempty,oneof=runtime buildtime"`
	Origin           string `json:"origin,omitempty"`
	Debug            bool   `json:"debug,omitempty"`
	// Force dispatches a new job even when a fresh one is cached.
	Force bool `json:"force,omitempty"`
}

// Parameters returns the request parameters safe to report back.
func (r *AnalysisRequest) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"image":            r.Image,
		"environment_type": nullable(r.EnvironmentType),
		"origin":           nullable(r.Origin),
		"debug":            r.Debug,
		"verify_tls":       verifyTLS(r.VerifyTLS),
	}
}

// fingerprinted also covers the credentials so that different credential sets never share a job.
func (r *AnalysisRequest) fingerprinted() map[string]interface{} {
	parameters := r.Parameters()
	parameters["registry_user"] = nullable(r.RegistryUser)
	parameters["registry_password"] = nullable(r.RegistryPassword)
	return parameters
}

// Validate checks the request.
func (r *AnalysisRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err, r.Parameters())
	}
	return nil
}

func (r *AnalysisRequest) metadataRequest() *ImageMetadataRequest {
	return &ImageMetadataRequest{
		Image:            r.Image,
		RegistryUser:     r.RegistryUser,
		RegistryPassword: r.RegistryPassword,
		VerifyTLS:        r.VerifyTLS,
	}
}

// ProvenanceRequest asks for a provenance check of a locked application stack.
type ProvenanceRequest struct {
	ApplicationStack stack.ApplicationStack `json:"application_stack"`
	Origin           string                 `json:"origin,omitempty"`
	Debug            bool                   `json:"debug,omitempty"`
	Force            bool                   `json:"force,omitempty"`
}

// Parameters returns the request parameters safe to report back.
func (r *ProvenanceRequest) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"application_stack": r.ApplicationStack,
		"origin":            nullable(r.Origin),
		"debug":             r.Debug,
	}
}

// Validate checks the request.
func (r *ProvenanceRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err, r.Parameters())
	}
	return nil
}

// Recommendation types accepted by the adviser.
const (
	RecommendationStable      = "stable"
	RecommendationTesting     = "testing"
	RecommendationLatest      = "latest"
	RecommendationPerformance = "performance"
)

// AdviseRequest asks for a recommended software stack.
type AdviseRequest struct {
	ApplicationStack    stack.ApplicationStack `json:"application_stack"`
	RuntimeEnvironment  map[string]interface{} `json:"runtime_environment,omitempty"`
	RecommendationType  string                 `json:"recommendation_type" validate:"required,oneof=stable testing latest performance"`
	Count               *int                   `json:"count,omitempty" validate:"omitempty,min=1"`
	Limit               *int                   `json:"limit,omitempty" validate:"omitempty,min=1"`
	LimitLatestVersions *int                   `json:"limit_latest_versions,omitempty" validate:"omitempty,min=1"`
	Origin              string                 `json:"origin,omitempty"`
	Debug               bool                   `json:"debug,omitempty"`
	Force               bool                   `json:"force,omitempty"`
}

// Parameters returns the request parameters safe to report back.
func (r *AdviseRequest) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"application_stack":     r.ApplicationStack,
		"runtime_environment":   r.RuntimeEnvironment,
		"recommendation_type":   r.RecommendationType,
		"count":                 r.Count,
		"limit":                 r.Limit,
		"limit_latest_versions": r.LimitLatestVersions,
		"origin":                nullable(r.Origin),
		"debug":                 r.Debug,
	}
}

// Validate checks the request.
func (r *AdviseRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err, r.Parameters())
	}
	return nil
}

// BuildLogAnalysisRequest asks for the analysis of a build log.
type BuildLogAnalysisRequest struct {
	BuildLog        map[string]interface{} `json:"build_log" validate:"required,min=1"`
	BaseImage       string                 `json:"base_image,omitempty"`
	OutputImage     string                 `json:"output_image,omitempty"`
	EnvironmentType string                 `json:"environment_type,omitempty" validate:"omitempty,oneof=runtime buildtime"`
	Origin          string                 `json:"origin,omitempty"`
	Debug           bool                   `json:"debug,omitempty"`
	Force           bool                   `json:"force,omitempty"`
}

// Parameters returns the request parameters safe to report back. The log itself is reported
// through its document id.
func (r *BuildLogAnalysisRequest) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"base_image":       nullable(r.BaseImage),
		"output_image":     nullable(r.OutputImage),
		"environment_type": nullable(r.EnvironmentType),
		"origin":           nullable(r.Origin),
		"debug":            r.Debug,
	}
}

// Validate checks the request.
func (r *BuildLogAnalysisRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err, r.Parameters())
	}
	return nil
}

// BuildRequest bundles the analyses describing one image build.
type BuildRequest struct {
	BaseImage        string                 `json:"base_image,omitempty"`
	OutputImage      string                 `json:"output_image,omitempty"`
	BuildLog         map[string]interface{} `json:"build_log,omitempty"`
	EnvironmentType  string                 `json:"environment_type,omitempty" validate:"omitempty,oneof=runtime buildtime"`
	RegistryUser     string                 `json:"registry_user,omitempty" validate:"required_with=RegistryPassword"`
	RegistryPassword string                 `json:"registry_password,omitempty" validate:"required_with=RegistryUser"`
	VerifyTLS        *bool                  `json:"verify_tls,omitempty"`
	Origin           string                 `json:"origin,omitempty"`
	Debug            bool                   `json:"debug,omitempty"`
	Force            bool                   `json:"force,omitempty"`
}

// Parameters returns the request parameters safe to report back.
func (r *BuildRequest) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"base_image":       nullable(r.BaseImage),
		"output_image":     nullable(r.OutputImage),
		"environment_type": nullable(r.EnvironmentType),
		"origin":           nullable(r.Origin),
		"debug":            r.Debug,
		"verify_tls":       verifyTLS(r.VerifyTLS),
	}
}

// Validate checks the request.
func (r *BuildRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err, r.Parameters())
	}
	return nil
}

func (r *BuildRequest) imageAnalysis(image string) *AnalysisRequest {
	return &AnalysisRequest{
		Image:            image,
		RegistryUser:     r.RegistryUser,
		RegistryPassword: r.RegistryPassword,
		VerifyTLS:        r.VerifyTLS,
		EnvironmentType:  r.EnvironmentType,
		Origin:           r.Origin,
		Debug:            r.Debug,
		Force:            r.Force,
	}
}

func (r *BuildRequest) buildLogAnalysis() *BuildLogAnalysisRequest {
	return &BuildLogAnalysisRequest{
		BuildLog:        r.BuildLog,
		BaseImage:       r.BaseImage,
		OutputImage:     r.OutputImage,
		EnvironmentType: r.EnvironmentType,
		Origin:          r.Origin,
		Debug:           r.Debug,
		Force:           r.Force,
	}
}

// nullable maps unset optional strings to JSON null.
func nullable(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
