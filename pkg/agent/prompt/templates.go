// Package prompt provides the centralized prompt builder framework for all
// agent controllers. It composes system messages, user messages, instruction
// hierarchies, and strategy-specific formatting.
package prompt

// separator is a visual delimiter for prompt sections (matches old TARSy).
const separator = "═══════════════════════════════════════════════════════════════════════════════"

// reactFormatOpener is the investigation-specific opening for ReAct instructions.
const reactFormatOpener = `You are an SRE agent using the ReAct framework to analyze incidents. Reason step by step, act with tools, observe results, and repeat until you identify root cause and resolution steps.`

// chatReActFormatOpener is the chat-specific opening for ReAct instructions.
// Avoids contradicting the chat persona ("helping with follow-up questions")
// with an investigation persona ("analyze incidents").
const chatReActFormatOpener = `Use the ReAct framework to answer follow-up questions. Reason step by step, use tools when fresh data is needed, observe results, and repeat until you have a complete answer.`

// reactFormatBody is the shared ReAct format specification (rules, examples).
// Prefixed with either reactFormatOpener or chatReActFormatOpener.
const reactFormatBody = `REQUIRED FORMAT:

Question: [the incident question]
Thought: [your step-by-step reasoning]
Action: [tool name from available tools]
Action Input: [parameters as key: value pairs]

⚠️ STOP immediately after Action Input. The system provides Observations.

Continue the cycle. Conclude when you have sufficient information:

Thought: [final reasoning]
Final Answer: [complete structured response]

CRITICAL RULES:
1. Always use colons after headers: "Thought:", "Action:", "Action Input:"
2. Start each section on a NEW LINE (never continue on same line as previous text)
3. Stop after Action Input—never generate fake Observations
4. Parameters: one per line for multiple values, or inline for single value
5. Conclude when you have actionable insights (perfect information not required)

PARAMETER FORMATS:

Multiple parameters:
Action Input: apiVersion: v1
kind: Namespace
name: superman-dev

Single parameter:
Action Input: namespace: default

EXAMPLE CYCLE:

Question: Why is namespace 'superman-dev' stuck in terminating state?

Thought: I need to check the namespace status first to identify any blocking resources or finalizers.

Action: kubernetes-server.resources_get
Action Input: apiVersion: v1
kind: Namespace
name: superman-dev

[System provides: Observation: {"status": {"phase": "Terminating", "finalizers": ["kubernetes"]}}]

Thought: A finalizer is blocking deletion. I should check for any remaining resources in the namespace.

Action: kubernetes-server.resources_list
Action Input: apiVersion: v1
kind: Pod
namespace: superman-dev

[System provides: Observation: No pods found]

Thought: No pods remain, but the finalizer persists. This is an orphaned finalizer that needs manual removal.

Final Answer:
**Root Cause:** Orphaned 'kubernetes' finalizer blocking namespace deletion after all resources were cleaned up.

**Resolution Steps:**
1. Remove the finalizer: ` + "`" + `kubectl patch namespace superman-dev -p '{"spec":{"finalizers":null}}' --type=merge` + "`" + `
2. Verify deletion: ` + "`" + `kubectl get namespace superman-dev` + "`" + `
3. If still stuck, check for remaining resources: ` + "`" + `kubectl api-resources --verbs=list --namespaced -o name | xargs -n 1 kubectl get -n superman-dev` + "`" + `

**Preventive Measures:** Ensure cleanup scripts remove finalizers when deleting namespaces programmatically.`

// reactFormatInstructions is the full ReAct format guide for investigation mode.
var reactFormatInstructions = reactFormatOpener + "\n\n" + reactFormatBody

// chatReActFormatInstructions is the full ReAct format guide for chat mode.
var chatReActFormatInstructions = chatReActFormatOpener + "\n\n" + reactFormatBody

// analysisTask is the investigation task instruction appended to the user message.
const analysisTask = `## Your Task
Use the available tools to investigate this alert and provide:
1. Root cause analysis
2. Current system state assessment
3. Specific remediation steps for human operators
4. Prevention recommendations

Be thorough in your investigation before providing the final answer.`

// synthesisTask is the synthesis task instruction for combining parallel results.
const synthesisTask = `Synthesize the investigation results and provide your comprehensive analysis.`

// forcedConclusionTemplate is the base template for forced conclusion prompts.
// %d = iteration count, %s = strategy-specific format instructions.
const forcedConclusionTemplate = `You have reached the investigation iteration limit (%d iterations).

Please conclude your investigation by answering the original question based on what you've discovered.

**Conclusion guidance:**
- Use the data and observations you've already gathered
- Perfect information is not required - provide actionable insights from available findings
- If gaps remain, clearly state what you couldn't determine and why
- Focus on practical next steps based on current knowledge

%s`

// reactForcedConclusionFormat is the ReAct-specific forced conclusion format instruction.
const reactForcedConclusionFormat = `**CRITICAL:** You MUST format your response using the ReAct format:

Thought: [your final reasoning about what you've discovered]
Final Answer: [your complete structured conclusion]

The "Final Answer:" marker is required for proper parsing. Begin your conclusion now.`

// nativeThinkingForcedConclusionFormat is the native thinking forced conclusion format.
const nativeThinkingForcedConclusionFormat = `Provide a clear, structured conclusion that directly addresses the investigation question.`

// mcpSummarizationSystemTemplate is the system prompt for MCP result summarization.
// %s = server name, %s = tool name, %d = max summary tokens.
const mcpSummarizationSystemTemplate = `You are an expert at summarizing technical output from system administration and monitoring tools for ongoing incident investigation.

Your specific task is to summarize output from **%s.%s** in a way that:

1. **Preserves Critical Information**: Keep all details essential for troubleshooting and investigation
2. **Maintains Investigation Context**: Focus on information relevant to what the investigator was looking for
3. **Reduces Verbosity**: Remove redundant details while preserving technical accuracy
4. **Highlights Key Findings**: Emphasize errors, warnings, unusual patterns, and actionable insights
5. **Stays Concise**: Keep summary under %d tokens while preserving meaning

## Summarization Guidelines:

- **Always Preserve**: Error messages, warnings, status indicators, resource metrics, timestamps
- **Intelligently Summarize**: Large lists by showing patterns, counts, and notable exceptions
- **Focus On**: Non-default configurations, problematic settings, resource utilization issues
- **Maintain**: Technical accuracy and context about what the data represents
- **Format**: Clean, structured text suitable for continued technical investigation
- **Be Conclusive**: Explicitly state what was found AND what was NOT found to prevent re-queries
- **Answer Questions**: If the investigation context suggests the investigator was looking for something specific, explicitly confirm whether it was present or absent

Your summary will be inserted as an observation in the ongoing investigation conversation.`

// mcpSummarizationUserTemplate is the user prompt for MCP result summarization.
// %s = conversation context, %s = server name, %s = tool name, %s = result text.
const mcpSummarizationUserTemplate = `Below is the ongoing investigation conversation that provides context for what the investigator has been looking for:

## Investigation Context:
=== CONVERSATION START ===
%s
=== CONVERSATION END ===

## Tool Result to Summarize:
The investigator just executed ` + "`%s.%s`" + ` and got the following output:

=== TOOL OUTPUT START ===
%s
=== TOOL OUTPUT END ===

## Your Task:
Based on the investigation context above, provide a concise summary of the tool result that:
- Preserves information most relevant to what the investigator was looking for
- Removes verbose or redundant details that don't impact the investigation
- Maintains technical accuracy and actionable insights
- Fits naturally as the next observation in the investigation conversation

CRITICAL INSTRUCTION: Return ONLY the summary text. Do NOT include "Final Answer:", "Thought:", "Action:", or any other formatting.`

// executiveSummarySystemPrompt is the system prompt for executive summary generation.
const executiveSummarySystemPrompt = `You are an expert Site Reliability Engineer assistant that creates concise 1-4 line executive summaries of incident analyses for alert notifications. Focus on clarity, brevity, and actionable information.`

// executiveSummaryUserTemplate is the user prompt for executive summary generation.
// %s = final analysis text.
const executiveSummaryUserTemplate = `Generate a 1-4 line executive summary of this incident analysis.

CRITICAL RULES:
- Only summarize what is EXPLICITLY stated in the analysis
- Do NOT infer future actions or recommendations not mentioned
- Do NOT add your own conclusions
- Focus on: what happened, current status, and ONLY stated next steps

Analysis to summarize:

=================================================================================
%s
=================================================================================

Executive Summary (1-4 lines, facts only):`

// scoringSystemPrompt is the system prompt for the session-quality scoring controller.
const scoringSystemPrompt = `You are a quality reviewer for an AI SRE agent's incident investigation. You evaluate the investigation on a 0-100 scale, weighing thoroughness, correct tool usage, evidence-based reasoning, and the quality of the final recommendations. Be strict: a plausible-sounding conclusion that isn't backed by tool evidence should score low.`

// scoringInitialPromptTemplate is the first user turn, asking for an evaluation
// and the scoring output format. %s = investigation transcript, %s = output schema instructions.
const scoringInitialPromptTemplate = `Evaluate the following investigation:

=================================================================================
%s
=================================================================================

Discuss strengths and weaknesses of the investigation, then score it.

%s`

// scoringOutputSchemaReminderTemplate re-states the output format after a failed extraction attempt.
const scoringOutputSchemaReminderTemplate = `Your previous response did not end with a parseable score. %s`

// scoringMissingToolsPrompt asks the LLM to identify tools that would have
// improved the investigation, as a second, separate turn from scoring itself.
const scoringMissingToolsPrompt = `Based on the investigation above, list any tools or data sources that were missing or unavailable and would have improved the analysis. If none, say so briefly.`

