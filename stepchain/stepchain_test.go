package stepchain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChain_AllStepsSucceed(t *testing.T) {
	err := New().
		Then("step 0", func() error { return nil }).
		Then("step 1", func() error { return nil }).
		Then("step 2", func() error { return nil }).
		Err()
	require.NoError(t, err)
}

func TestChain_StopsAtFirstFailureAndNamesIt(t *testing.T) {
	var ran [4]bool
	err := New().
		Then("step 0", func() error { ran[0] = true; return nil }).
		Then("step 1", func() error { ran[1] = true; return nil }).
		Then("step 2", func() error { ran[2] = true; return errors.New("boom") }).
		Then("step 3", func() error { ran[3] = true; return nil }).
		Err()

	require.Error(t, err)
	require.EqualError(t, err, "step 2: boom")
	require.Equal(t, [4]bool{true, true, true, false}, ran)
}
