package mcpserver

// DrawingFormatContract describes the drawing document format and the link
// grammar of text elements for LLM consumers editing drawings.
const DrawingFormatContract = `# Sketchmark Drawing Format Contract

A drawing is a Markdown file ending in ` + "`" + `.excalidraw.md` + "`" + `. Only the text of its text
elements may be edited through the tools; shapes and layout belong to the scene.

## Structure

` + "```" + `markdown
---
excalidraw-plugin: parsed
sketchmark-link-brackets: true      # OPTIONAL – show [[ ]] around links
sketchmark-link-prefix: "📍"        # OPTIONAL – prepended to text with links
sketchmark-url-prefix: "🌐"         # OPTIONAL – used when all links are web links
---
# Text Elements
first text element ^abcd1234

second text element ^efgh5678

# Drawing
` + "```" + `json
{"type":"excalidraw","elements":[...]}
` + "```" + `
` + "```" + `

## Rules

1. **Element ids** are the 8-character anchors after ` + "`" + `^` + "`" + `. Address elements by these ids.
2. **Raw text** is what is stored. Never write display text (with prefixes) back as raw text.
3. **Links** use ` + "`" + `[[target]]` + "`" + `, ` + "`" + `[[target|alias]]` + "`" + ` or ` + "`" + `[alias](target)` + "`" + `.
   Resolved text shows the alias, or the target when there is none.
4. **Embeds** use ` + "`" + `![[document#^anchor]]` + "`" + `. Resolved text replaces them with the line of
   ` + "`" + `document` + "`" + ` that ends in ` + "`" + `^anchor` + "`" + `. Unresolvable embeds are shown as written.
5. **Text may span several lines.** A text element ends at its anchor.
6. **Do not edit the Drawing section.** The scene is rewritten from the text elements on save.
`
