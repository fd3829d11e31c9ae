package segmentation

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
	"go.uber.org/multierr"

	"go.viam.com/tabletop/utils"
)

// LowSeedResolution is the seed resolution below which supervoxels tend to fragment objects.
const LowSeedResolution = 0.013

// Parameters configures LCCP tabletop segmentation. Distances are in meters, angles in degrees.
type Parameters struct {
	ZMin     float64 `json:"zmin" jsonschema:"description=lowest height above the table of object points"`
	ZMax     float64 `json:"zmax" jsonschema:"description=highest height above the table of object points"`
	ThPoints int     `json:"th_points" jsonschema:"minimum=0,description=minimum number of points of an object"`
	// DisableTransform is carried for callers that set it; segmentation does not read it.
	DisableTransform bool `json:"disable_transform" jsonschema:"description=reserved and ignored"`

	VoxelResolution   float64 `json:"voxel_resolution" jsonschema:"description=edge of the supervoxel voxel grid"`
	SeedResolution    float64 `json:"seed_resolution" jsonschema:"description=edge of the supervoxel seed grid"`
	ColorImportance   float64 `json:"color_importance" jsonschema:"description=weight of color in the supervoxel distance"`
	SpatialImportance float64 `json:"spatial_importance" jsonschema:"description=weight of position in the supervoxel distance"`
	NormalImportance  float64 `json:"normal_importance" jsonschema:"description=weight of normals in the supervoxel distance"`

	UseExtendedConvexity        bool    `json:"use_extended_convexity" jsonschema:"description=require a convex common neighbor to merge"`
	UseSanityCriterion          bool    `json:"use_sanity_criterion" jsonschema:"description=treat boundaries with undefined convexity as concave"`
	ConcavityToleranceThreshold float64 `json:"concavity_tolerance_threshold" jsonschema:"description=largest normal angle of a merged concave boundary"`
	SmoothnessThreshold         float64 `json:"smoothness_threshold" jsonschema:"description=step tolerance in voxel units"`
	MinSegmentSize              int     `json:"min_segment_size" jsonschema:"minimum=0,description=minimum number of supervoxels of a segment"`
}

// DefaultParameters returns the default configuration of the segmenter.
func DefaultParameters() Parameters {
	return Parameters{
		ZMin:                        0.03,
		ZMax:                        2.0,
		ThPoints:                    50,
		DisableTransform:            false,
		VoxelResolution:             0.0075,
		SeedResolution:              0.015,
		ColorImportance:             0.0,
		SpatialImportance:           1.0,
		NormalImportance:            4.0,
		UseExtendedConvexity:        false,
		UseSanityCriterion:          true,
		ConcavityToleranceThreshold: 10,
		SmoothnessThreshold:         0.1,
		MinSegmentSize:              3,
	}
}

// CheckValid returns every violated constraint of the parameters.
func (p Parameters) CheckValid() error {
	var err error
	if p.ZMin > p.ZMax {
		err = multierr.Append(err, utils.NewOutOfRangeError("zmin", p.ZMin, "at most zmax"))
	}
	if p.ThPoints < 0 {
		err = multierr.Append(err, utils.NewOutOfRangeError("th_points", p.ThPoints, "non-negative"))
	}
	if p.VoxelResolution <= 0 {
		err = multierr.Append(err, utils.NewOutOfRangeError("voxel_resolution", p.VoxelResolution, "positive"))
	}
	if p.SeedResolution < p.VoxelResolution {
		err = multierr.Append(err, utils.NewOutOfRangeError("seed_resolution", p.SeedResolution, "at least voxel_resolution"))
	}
	if p.ColorImportance < 0 {
		err = multierr.Append(err, utils.NewOutOfRangeError("color_importance", p.ColorImportance, "non-negative"))
	}
	if p.SpatialImportance < 0 {
		err = multierr.Append(err, utils.NewOutOfRangeError("spatial_importance", p.SpatialImportance, "non-negative"))
	}
	if p.NormalImportance < 0 {
		err = multierr.Append(err, utils.NewOutOfRangeError("normal_importance", p.NormalImportance, "non-negative"))
	}
	if p.SmoothnessThreshold < 0 {
		err = multierr.Append(err, utils.NewOutOfRangeError("smoothness_threshold", p.SmoothnessThreshold, "non-negative"))
	}
	if p.MinSegmentSize < 0 {
		err = multierr.Append(err, utils.NewOutOfRangeError("min_segment_size", p.MinSegmentSize, "non-negative"))
	}
	return err
}

// SupervoxelConfig returns the clustering part of the parameters.
func (p Parameters) SupervoxelConfig() SupervoxelConfig {
	return SupervoxelConfig{
		VoxelResolution:   p.VoxelResolution,
		SeedResolution:    p.SeedResolution,
		ColorImportance:   p.ColorImportance,
		SpatialImportance: p.SpatialImportance,
		NormalImportance:  p.NormalImportance,
	}
}

// LCCPConfig returns the merge part of the parameters. The smoothness check is always on.
func (p Parameters) LCCPConfig() LCCPConfig {
	k := 0
	if p.UseExtendedConvexity {
		k = 1
	}
	return LCCPConfig{
		ConcavityToleranceThreshold: p.ConcavityToleranceThreshold,
		KFactor:                     k,
		UseSmoothnessCheck:          true,
		SmoothnessThreshold:         p.SmoothnessThreshold,
		VoxelResolution:             p.VoxelResolution,
		SeedResolution:              p.SeedResolution,
		UseSanityCriterion:          p.UseSanityCriterion,
		MinSegmentSize:              p.MinSegmentSize,
	}
}

// ParametersFromAttributes overlays the attributes on the defaults and validates the result.
func ParametersFromAttributes(attrs utils.AttributeMap) (Parameters, error) {
	params := DefaultParameters()
	if len(attrs) == 0 {
		return params, nil
	}
	if err := attrs.Decode(&params); err != nil {
		return Parameters{}, err
	}
	if err := params.CheckValid(); err != nil {
		return Parameters{}, err
	}
	return params, nil
}

// ParametersSchema returns the JSON schema of Parameters.
func ParametersSchema() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	return reflector.Reflect(&Parameters{})
}

// ParametersSchemaJSON returns the indented JSON schema of Parameters.
func ParametersSchemaJSON() ([]byte, error) {
	return json.MarshalIndent(ParametersSchema(), "", "  ")
}
