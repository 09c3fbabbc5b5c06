package ai

// Prompts for the entity/triple extraction and retrieval pipeline. The
// extraction prompts ship a one-shot example each so smaller models keep the
// output shape stable.

const NERSystemPrompt = `Your task is to extract named entities from the given paragraph.
Respond with a JSON list of entities.
`

const NERExampleParagraph = `Radio City
Radio City is India's first private FM radio station and was started on 3 July 2001.
It plays Hindi, English and regional songs.
Radio City recently forayed into New Media in May 2008 with the launch of a music portal - PlanetRadiocity.com that offers music related news, videos, songs, and other music-related features.`

const NERExampleOutput = `{"named_entities":
    ["Radio City", "India", "3 July 2001", "Hindi", "English", "May 2008", "PlanetRadiocity.com"]
}
`

const TripleSystemPrompt = `Your task is to construct an RDF (Resource Description Framework) graph from the given passages and named entity lists.
Respond with a JSON list of triples, with each triple representing a relationship in the RDF graph.

Pay attention to the following requirements:
- Each triple should contain at least one, but preferably two, of the named entities in the list for each passage.
- Clearly resolve pronouns to their specific names to maintain clarity.
`

// TripleUserPrompt expects the passage and the named-entity JSON appended by
// the caller.
const TripleUserPrompt = `Convert the paragraph into a JSON dict, it has a named entity list and a triple list.
Paragraph:
` + "```" + `
%s
` + "```" + `

%s
`

const TripleExampleOutput = `{"triples": [
            ["Radio City", "located in", "India"],
            ["Radio City", "is", "private FM radio station"],
            ["Radio City", "started on", "3 July 2001"],
            ["Radio City", "plays songs in", "Hindi"],
            ["Radio City", "plays songs in", "English"],
            ["Radio City", "forayed into", "New Media"],
            ["Radio City", "launched", "PlanetRadiocity.com"],
            ["PlanetRadiocity.com", "launched in", "May 2008"],
            ["PlanetRadiocity.com", "is", "music portal"],
            ["PlanetRadiocity.com", "offers", "news"],
            ["PlanetRadiocity.com", "offers", "videos"],
            ["PlanetRadiocity.com", "offers", "songs"]
    ]
}
`

// Fact filter prompts. The structured section markers ([[ ## name ## ]]) let
// the response parser recover the filtered fact list even from chatty models.

const FactFilterSystemPrompt = `Your input fields are:
1. ` + "`question`" + ` (str)
2. ` + "`fact_before_filter`" + ` (str)

Your output fields are:
1. ` + "`fact_after_filter`" + ` (Fact): a JSON object with a single key "fact" holding a list of facts, each fact being a list of 3 strings [subject, predicate, object]

All interactions will be structured in the following way, with the appropriate values filled in.

[[ ## question ## ]]
{question}

[[ ## fact_before_filter ## ]]
{fact_before_filter}

[[ ## fact_after_filter ## ]]
{fact_after_filter}

[[ ## completed ## ]]

In adhering to this structure, your objective is:
        Given a question and a candidate list of facts, select the facts that could be useful to answer the question. Keep the selected facts exactly as they appear in the candidate list and preserve a most-relevant-first ordering.`

// FactFilterInputTemplate takes the question and the serialized candidate
// fact list.
const FactFilterInputTemplate = `[[ ## question ## ]]
%s

[[ ## fact_before_filter ## ]]
%s

Respond with the corresponding output fields, starting with the field ` + "`[[ ## fact_after_filter ## ]]`" + `, and then ending with the marker for ` + "`[[ ## completed ## ]]`" + `.`

// FactFilterOutputTemplate takes the serialized filtered fact list.
const FactFilterOutputTemplate = `[[ ## fact_after_filter ## ]]
%s

[[ ## completed ## ]]`

// FactFilterDemo is a worked question/selection pair shown to the model
// before the real request.
type FactFilterDemo struct {
	Question         string
	FactBeforeFilter string
	FactAfterFilter  string
}

// FactFilterDemos are the default few-shot examples for the fact filter.
var FactFilterDemos = []FactFilterDemo{
	{
		Question:         "Are Imperial River (Florida) and Amaradia (Dolj) both located in the same country?",
		FactBeforeFilter: `{"fact": [["imperial river", "is located in", "florida"], ["imperial river", "is in", "united states"], ["amaradia", "is located in", "dolj county"], ["amaradia", "flows through", "romania"], ["hawaii", "is a state of", "united states"]]}`,
		FactAfterFilter:  `{"fact": [["imperial river", "is located in", "florida"], ["imperial river", "is in", "united states"], ["amaradia", "is located in", "dolj county"], ["amaradia", "flows through", "romania"]]}`,
	},
	{
		Question:         "When was the director of film Wedding Night In Paradise (1950 Film) born?",
		FactBeforeFilter: `{"fact": [["wedding night in paradise", "directed by", "geza von bolvary"], ["geza von bolvary", "born on", "26 december 1897"], ["wedding night in paradise", "released in", "1950"], ["budapest", "is capital of", "hungary"]]}`,
		FactAfterFilter:  `{"fact": [["wedding night in paradise", "directed by", "geza von bolvary"], ["geza von bolvary", "born on", "26 december 1897"]]}`,
	},
}

const RAGQASystemPrompt = `As an advanced reading comprehension assistant, your task is to analyze text passages and corresponding questions meticulously.
Your response starts after "Thought: ", where you will methodically break down the reasoning process, illustrating how you arrive at conclusions.
Conclude with "Answer: " to present a concise, definitive response, devoid of additional elaborations.`
