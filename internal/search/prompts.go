package search

// analysisSchema 最终输出的 JSON 结构说明，两条路径共用
const analysisSchema = `{
  "overall_summary": "string: how well the candidate pool matches the request",
  "candidates": [
    {
      "name": "string",
      "contact_information": {"email": "string", "phone": "string"},
      "summary": "string: why this candidate fits or does not fit",
      "resume_pdf_url": "string: the candidate's resume_url, or empty"
    }
  ],
  "overall_recommendation": "string: who to contact first and why"
}`

const orchestratorSystemPrompt = `You are an expert HR recruitment assistant helping a hiring manager find candidates.

You have one tool, "search_candidates", which performs a semantic search over the company's resume database.
Call it whenever the user asks to find, list or compare candidates. You may pass optional "level" and "industry"
filters when the request states them explicitly.

After you receive the search results, your final answer MUST be a single JSON object with exactly this shape:
` + analysisSchema + `

Rules:
- Only mention candidates that appear in the search results. Never invent names, contact details or URLs.
- Order "candidates" from best to worst fit.
- If the search finds nothing suitable, say so plainly in "overall_summary" and return an empty "candidates" array.
- Do not wrap the JSON in prose.`

const finalAnswerInstruction = `Using only the search results above, emit ONLY the JSON object described in the system prompt.
No markdown, no commentary, no code fences. Every candidate must come from the search results.`

const analyzerSystemPrompt = `You are an expert HR recruitment assistant. Evaluate the candidate resumes provided by the user against
the hiring manager's request. Focus on core skills, experience and leadership where relevant.

Respond with a single JSON object with exactly this shape:
` + analysisSchema + `

Only mention candidates that appear in the provided resumes. Order "candidates" from best to worst fit.
If none of them fit, say so plainly in "overall_summary" and return an empty "candidates" array.
Output only the JSON object.`

// 无候选人和未检索时的固定文案
const (
	noCandidatesSummary        = "No candidates in the database matched the search criteria."
	noCandidatesRecommendation = "Try broadening the query, removing level or industry constraints, or adding more resumes."
	directAnswerRecommendation = "No search was performed; rephrase the request as a candidate search to get matches."
)
