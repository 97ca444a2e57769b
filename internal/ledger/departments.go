package ledger

import (
	"regexp"
	"strings"
)

// DepartmentCodeToName maps the fixed department abbreviations to their full
// listing names. The mapping is many-to-one from observed name variants.
var DepartmentCodeToName = map[string]string{
	"mahagri":  "Agriculture, Dairy Development, Animal Husbandry and Fisheries Department",
	"mahcoop":  "Co-operation, Textiles and Marketing Department",
	"mahenv":   "Environment Department",
	"mahfin":   "Finance Department",
	"mahfood":  "Food, Civil Supplies and Consumer Protection Department",
	"mahadmin": "General Administration Department",
	"mahtech":  "Higher and Technical Education Department",
	"mahhome":  "Home Department",
	"mahhouse": "Housing Department",
	"mahind":   "Industries, Energy and Labour Department",
	"mahit":    "Information Technology Department",
	"mahlaw":   "Law and Judiciary Department",
	"mahmar":   "Marathi Language Department",
	"mahmed":   "Medical Education and Drugs Department",
	"mahmin":   "Minorities Development Department",
	"mahbah":   "Other Backward Bahujan Welfare Department",
	"mahpar":   "Parliamentary Affairs Department",
	"mahdis":   "Persons with Disabilities Welfare Department",
	"mahplan":  "Planning Department",
	"mahhea":   "Public Health Department",
	"mahpwd":   "Public Works Department",
	"mahrev":   "Revenue and Forest Department",
	"mahrural": "Rural Development Department",
	"mahedu":   "School Education and Sports Department",
	"mahskill": "Skill Development and Entrepreneurship Department",
	"mahsoc":   "Social Justice and Special Assistance Department",
	"mahsoil":  "Soil and Water Conservation Department",
	"mahtour":  "Tourism and Cultural Affairs Department",
	"mahtrib":  "Tribal Development Department",
	"mahurb":   "Urban Development Department",
	"mahwater": "Water Resources Department",
	"mahsanit": "Water Supply and Sanitation Department",
	"mahwom":   "Women and Child Development Department",
}

var (
	nonAlnumRE     = regexp.MustCompile(`[^a-z0-9]+`)
	departmentByNm = buildNameIndex()
)

func normalizeDepartmentName(value string) string {
	text := strings.ToLower(strings.ReplaceAll(value, "&", " and "))
	text = nonAlnumRE.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " ")
}

func buildNameIndex() map[string]string {
	index := make(map[string]string, len(DepartmentCodeToName))
	for code, name := range DepartmentCodeToName {
		index[normalizeDepartmentName(name)] = code
	}
	return index
}

// DepartmentCodeFromName resolves a listing department name (or an already
// abbreviated code) to its fixed code, returning "unknown" when unmapped.
func DepartmentCodeFromName(departmentName string) string {
	text := cleanText(departmentName)
	if text == "" {
		return PartitionUnknown
	}
	if _, ok := DepartmentCodeToName[strings.ToLower(text)]; ok {
		return strings.ToLower(text)
	}
	if code, ok := departmentByNm[normalizeDepartmentName(text)]; ok {
		return code
	}
	return PartitionUnknown
}

// DepartmentCodes returns the known abbreviations in unspecified order;
// callers sort when order matters.
func DepartmentCodes() []string {
	codes := make([]string, 0, len(DepartmentCodeToName))
	for code := range DepartmentCodeToName {
		codes = append(codes, code)
	}
	return codes
}
