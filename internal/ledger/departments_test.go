package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/civicdatalab/gr-archiver/internal/ledger"
)

func TestDepartmentCodeFromName(t *testing.T) {
	assert.Equal(t, "mahpwd", ledger.DepartmentCodeFromName("Public Works Department"))
	assert.Equal(t, "mahpwd", ledger.DepartmentCodeFromName("  public works department "))
	assert.Equal(t, "mahfin", ledger.DepartmentCodeFromName("Finance Department"))
	// Ampersand variant normalizes to the same name.
	assert.Equal(t, "mahrev", ledger.DepartmentCodeFromName("Revenue & Forest Department"))
	// An already abbreviated code passes through.
	assert.Equal(t, "mahhome", ledger.DepartmentCodeFromName("mahhome"))
	assert.Equal(t, ledger.PartitionUnknown, ledger.DepartmentCodeFromName("Department of Mystery"))
	assert.Equal(t, ledger.PartitionUnknown, ledger.DepartmentCodeFromName(""))
}

func TestDepartmentCodes(t *testing.T) {
	codes := ledger.DepartmentCodes()
	assert.Len(t, codes, len(ledger.DepartmentCodeToName))
	assert.Contains(t, codes, "mahpwd")
}
