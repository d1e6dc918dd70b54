package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"
)

// The four prompt templates. Placeholders use Go template syntax and are
// filled from the run record: requirement, code, input, output, error.
var (
	codePrompt = prompts.NewPromptTemplate(`**Role**: You are an expert Python programmer. You need to develop Python code.
**Task**: As a programmer, you are required to complete the function. Use a Chain-of-Thought approach to break
down the problem, create pseudocode, and then write the code in Python. Ensure that your code is
efficient, readable, and well-commented.

**Instructions**:
1. **Understand and Clarify**: Make sure you understand the task.
2. **Algorithm/Method Selection**: Decide on the most efficient way.
3. **Pseudocode Creation**: Write down the steps you will follow in pseudocode.
4. **Code Generation**: Translate your pseudocode into executable Python code.
5. Define the function before anything uses it, and keep the function name the requirement implies.
6. Do not read from stdin and do not call the function at module level.

*REQUIREMENT*
{{.requirement}}`, []string{"requirement"})

	testsPrompt = prompts.NewPromptTemplate(`**Role**: As a tester, your task is to create basic and simple test cases based on the provided requirement and Python code.
These test cases should cover basic and edge scenarios to check the code's robustness and reliability.

**CRITICAL FORMAT REQUIREMENTS**:
1. Input MUST be a list of lists: [[test1_inputs], [test2_inputs], ...]
2. Output MUST be a list of lists: [[test1_output], [test2_output], ...]
3. Each output MUST be a list containing exactly one value
4. The number of input test cases MUST match the number of output test cases

Examples:

1. For a function that adds two numbers:
Input: [[1, 2], [3, 4]]
Output: [[3], [7]]

2. For a function that calculates an average:
Input: [[1, 2, 3], [4, 5, 6]]
Output: [[2.0], [5.0]]

3. For a function that upper-cases a string:
Input: [["hello"], ["world"]]
Output: [["HELLO"], ["WORLD"]]

**1. Basic Test Cases**:
- **Objective**: Basic, small test cases that validate the basic functioning.
**2. Edge Test Cases**:
- **Objective**: Evaluate the function's behavior under extreme or unusual conditions.

**Instructions**:
- Pay special attention to edge cases as they often reveal hidden bugs
- Only generate basic and edge cases which are small
- Avoid large and medium scale test cases
- CRITICAL: Each output MUST be a list containing exactly one value
- CRITICAL: The number of input and output test cases MUST match
- CRITICAL: All values must be valid JSON

*REQUIREMENT*
{{.requirement}}
**Code**
{{.code}}
`, []string{"requirement", "code"})

	instrumentPrompt = prompts.NewPromptTemplate(`You have to add a testing layer to the *Python Code* that executes it. Pass only the provided Input as arguments and validate that the given Expected Output is matched.

*Instructions*:
- Keep the function definition above the testing layer
- Call the function once per test case, with inputs[i] as its arguments, and compare against outputs[i][0]
- Raise an AssertionError that names the input, expected and actual values when a comparison fails
- For floating-point comparisons, use math.isclose() with appropriate relative and absolute tolerances
- Example: math.isclose(result, expected, rel_tol=1e-9, abs_tol=0.0)
- Do not catch the assertion errors; the program must exit with an error when a test fails
- Do not read from stdin

Python Code to execute:
*Python Code*:{{.code}}
Input and Output For Code:
*Input*:{{.input}}
*Expected Output*:{{.output}}`, []string{"code", "input", "output"})

	refinePrompt = prompts.NewPromptTemplate(`You are an expert in Python debugging. Analyse the given code and error and generate code that handles the error.
*Instructions*:
- Make sure to generate error free code
- The generated code must handle the error
- Keep any testing layer that is already present

*Code*: {{.code}}
*Error*: {{.error}}
`, []string{"code", "error"})
)

// RenderCode fills the code generation prompt.
func RenderCode(requirement string) (string, error) {
	return format(codePrompt, "code", map[string]any{"requirement": requirement})
}

// RenderTests fills the test generation prompt.
func RenderTests(requirement, code string) (string, error) {
	return format(testsPrompt, "tests", map[string]any{"requirement": requirement, "code": code})
}

// RenderInstrument fills the instrumentation prompt. inputs and outputs are
// rendered as JSON so the model sees the exact literal values.
func RenderInstrument(code string, inputs, outputs [][]any) (string, error) {
	in, err := literalJSON(inputs)
	if err != nil {
		return "", fmt.Errorf("agent: encoding test inputs: %w", err)
	}
	out, err := literalJSON(outputs)
	if err != nil {
		return "", fmt.Errorf("agent: encoding test outputs: %w", err)
	}
	return format(instrumentPrompt, "instrument", map[string]any{
		"code":   code,
		"input":  in,
		"output": out,
	})
}

// literalJSON encodes v without HTML escaping, so "<" and "&" reach the
// model as themselves.
func literalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// RenderRefine fills the repair prompt.
func RenderRefine(code, errText string) (string, error) {
	return format(refinePrompt, "refine", map[string]any{"code": code, "error": errText})
}

func format(t prompts.PromptTemplate, name string, values map[string]any) (string, error) {
	s, err := t.Format(values)
	if err != nil {
		return "", fmt.Errorf("agent: rendering %s prompt: %w", name, err)
	}
	return s, nil
}
