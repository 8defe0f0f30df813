package planpolicy

import (
	"github.com/klauspost/cpuid/v2"

	"planpolicy/internal/model"
)

// hostInfo records where a run was trained. Float results can differ across
// CPUs with different vector units.
func hostInfo() model.HostInfo {
	return model.HostInfo{
		CPUBrand:     cpuid.CPU.BrandName,
		LogicalCores: cpuid.CPU.LogicalCores,
		AVX2:         cpuid.CPU.Supports(cpuid.AVX2),
	}
}
