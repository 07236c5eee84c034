package services

import "encoding/json"

// RewriteActionInput replaces the "input" argument of an Action Input block
// with the user's original question, framed for the archive tool. The model's
// paraphrase of the question is often lossy, so the verbatim question is
// restored before dispatch.
//
// The patched object is re-serialized and spliced back over the exact span
// the original occupied; the rest of the content is untouched. If there is
// no Action Input block, or the block cannot be decoded even after repair,
// the content is returned unchanged and applied is false.
func RewriteActionInput(content, question string) (string, bool) {
	start, end, ok := findActionInputSpan(content)
	if !ok {
		return content, false
	}

	obj, err := decodeActionInput(content[start:end])
	if err != nil {
		return content, false
	}

	obj["input"] = FrameQuestion(question)

	patched, err := json.Marshal(obj)
	if err != nil {
		return content, false
	}

	return content[:start] + string(patched) + content[end:], true
}
