// Copyright 2025 The NLP Odyssey Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package realtime

import (
	"context"
	"fmt"
	"reflect"
)

// GuardrailOutput is the verdict of one guardrail run.
type GuardrailOutput struct {
	// TripwireTriggered interrupts the ongoing response when true.
	TripwireTriggered bool
	// Info carries optional guardrail-specific details.
	Info map[string]any
}

// GuardrailFunc checks a partial assistant transcript.
type GuardrailFunc func(ctx context.Context, agentName, output string) (GuardrailOutput, error)

// OutputGuardrail validates assistant output while it is being generated.
type OutputGuardrail struct {
	Name string
	Run  GuardrailFunc
}

// GuardrailResult pairs a tripped guardrail with its output.
type GuardrailResult struct {
	Guardrail OutputGuardrail
	Output    GuardrailOutput
}

func runGuardrailSafely(
	ctx context.Context,
	guardrail OutputGuardrail,
	agentName string,
	message string,
) (result GuardrailResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("output guardrail panic: %v", recovered)
		}
	}()
	if guardrail.Run == nil {
		return GuardrailResult{Guardrail: guardrail}, nil
	}
	output, err := guardrail.Run(ctx, agentName, message)
	if err != nil {
		return GuardrailResult{}, err
	}
	return GuardrailResult{Guardrail: guardrail, Output: output}, nil
}

func guardrailDedupKey(guardrail OutputGuardrail) string {
	functionPointer := uintptr(0)
	if guardrail.Run != nil {
		functionPointer = reflect.ValueOf(guardrail.Run).Pointer()
	}
	return fmt.Sprintf("%s:%d", guardrail.Name, functionPointer)
}
