package agent

import (
	"fmt"
	"time"
)

// Prompt templates for the four model calls. Placeholders are filled with
// fmt.Sprintf; the comment above each template lists the argument order.

// queryWriterInstructions: number of queries, research topic, current date.
const queryWriterInstructions = `Your goal is to generate sophisticated and diverse web search queries. These queries are intended for an advanced automated web research tool capable of analyzing complex results, following links, and synthesizing information.

Instructions:
- Always prefer a single search query; only add another if the original question covers multiple aspects and one query is not enough.
- Each query should focus on one specific aspect of the original question.
- Do not produce more than %d queries.
- Queries should be diverse; if the topic is broad, generate more than one.
- Do not generate multiple similar queries; one is enough.
- Queries should ensure that the most current information is gathered. The current date is %s.

Format:
- Format your response as a JSON object with EXACTLY these two keys:
   - "rationale": brief explanation of why these queries are relevant
   - "query": a list of search queries

Context: %s`

// webSearcherInstructions: search query, current date.
const webSearcherInstructions = `Conduct targeted Google Searches to gather the most recent, credible information on "%s" and synthesize it into a verifiable text artifact.

Instructions:
- The current date is %s.
- Conduct multiple, diverse searches to gather comprehensive information.
- Consolidate key findings while meticulously tracking the source(s) for each specific piece of information.
- The output should be a well-written summary or report based on your search findings.
- Only include information found in the search results; do not make anything up.

Research Topic:
%s`

// reflectionInstructions: research topic, current date, joined summaries.
const reflectionInstructions = `You are an expert research assistant analyzing summaries about "%s".

Instructions:
- The current date is %s.
- Identify knowledge gaps or areas that need deeper exploration and generate a follow-up query (one or multiple).
- If the provided summaries are sufficient to answer the user's question, do not generate a follow-up query.
- If there is a knowledge gap, generate a self-contained follow-up query that includes the context needed for web search.
- Focus on technical details, implementation specifics, or emerging trends that were not fully covered.

Output Format:
- Format your response as a JSON object with these exact keys:
   - "is_sufficient": true or false
   - "knowledge_gap": describe what information is missing or needs clarification
   - "follow_up_queries": a list of specific questions addressing the gap

Summaries:
%s`

// answerInstructions: current date, research topic, joined summaries.
const answerInstructions = `Generate a high-quality answer to the user's question based on the provided summaries.

Instructions:
- The current date is %s.
- You are the final step of a multi-step research process; do not mention that you are the final step.
- You have access to all the information gathered in the previous steps and to the user's question.
- Generate a high-quality answer based on the summaries and the user's question.
- You MUST carry over all citations from the summaries into the answer correctly.

User Context:
- %s

Summaries:
%s`

// currentDate renders a timestamp the way the prompts expect it.
func currentDate(t time.Time) string {
	return t.Format("January 2, 2006")
}

func formatQueryWriterPrompt(count int, topic string, now time.Time) string {
	return fmt.Sprintf(queryWriterInstructions, count, currentDate(now), topic)
}

func formatWebSearcherPrompt(query string, now time.Time) string {
	return fmt.Sprintf(webSearcherInstructions, query, currentDate(now), query)
}

func formatReflectionPrompt(topic string, now time.Time, summaries string) string {
	return fmt.Sprintf(reflectionInstructions, topic, currentDate(now), summaries)
}

func formatAnswerPrompt(now time.Time, topic, summaries string) string {
	return fmt.Sprintf(answerInstructions, currentDate(now), topic, summaries)
}
