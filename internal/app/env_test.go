package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("BKRT_T_STR", "  support  ")
	t.Setenv("BKRT_T_BOOL", "yes")
	t.Setenv("BKRT_T_INT", "-3")
	t.Setenv("BKRT_T_INT32", "0")
	t.Setenv("BKRT_T_DUR", "750ms")
	t.Setenv("BKRT_T_CSV", " a, ,b ,")
	t.Setenv("BKRT_T_CSV_BLANK", " , ")

	assert.Equal(t, "support", EnvString("BKRT_T_STR", "x"))
	assert.Equal(t, "x", EnvString("BKRT_T_UNSET", "x"))
	assert.True(t, EnvBool("BKRT_T_BOOL", true), "unparsable bool falls back")
	assert.Equal(t, 7, EnvInt("BKRT_T_INT", 7), "negative int falls back")
	assert.Equal(t, int32(0), EnvInt32("BKRT_T_INT32", 5))
	assert.Equal(t, 750*time.Millisecond, EnvDuration("BKRT_T_DUR", time.Second))
	assert.Equal(t, []string{"a", "b"}, EnvCSV("BKRT_T_CSV", nil))
	assert.Equal(t, []string{"d"}, EnvCSV("BKRT_T_CSV_BLANK", []string{"d"}))
}
