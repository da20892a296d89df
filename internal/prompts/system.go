package prompts

import (
	"fmt"
	"os"
	"strings"
)

// SearchMarker is the prefix the model uses to request a search. The
// reasoning loop matches it case-insensitively.
const SearchMarker = "buscar:"

// QuerySeparator separates multiple queries after SearchMarker.
const QuerySeparator = "|"

// defaultIdentity opens the system prompt when no persona file is set.
const defaultIdentity = `Eres un agente de IA que conversa por Signal. Tu objetivo es proporcionar respuestas precisas y actuales usando herramientas de búsqueda de forma autónoma.`

// protocolTemplate describes the autonomous search protocol.
const protocolTemplate = `## PROCESO DE PENSAMIENTO AUTÓNOMO ##
1.  **Analiza:** Recibes un mensaje del usuario.
2.  **Planifica y Ejecuta Búsqueda:** Si necesitas información actual, responde ÚNICAMENTE con el comando ` + "`%[1]s`" + `. Puedes hacer múltiples búsquedas separadas por ` + "`%[2]s`" + `.
    - Formato: ` + "`%[1]s [pregunta 1] %[2]s [pregunta 2]`" + `
    - Ejemplo: ` + "`%[1]s precio actual de Bitcoin %[2]s últimas noticias sobre la inteligencia artificial`" + `
3.  **Recibe Resultados:** El sistema te entregará los resultados de tu búsqueda.
4.  **Evalúa y Re-busca (Opcional):** Analiza los resultados. Si son insuficientes, puedes volver al paso 2 y ejecutar una nueva búsqueda para obtener más detalles.
## >> SÍNTESIS FINAL (ACCIÓN OBLIGATORIA) << ##
5.  **Una vez que tengas información suficiente de tus búsquedas, tu ÚNICA y ÚLTIMA tarea es generar la respuesta final para el usuario.**
    - **NO** emitas más comandos ` + "`buscar`" + `.
    - **FORMATO ESTRICTO:** La respuesta DEBE ser **texto plano**. No incluyas NUNCA markdown (como ` + "`*negrita*`, `_cursiva_`, `~tachado~`, `[]()`" + `), código, o emojis.
    - **OBJETIVO:** Sintetiza toda la información en una respuesta corta, precisa y en lenguaje natural (2-5 líneas).

**IMPORTANTE:** Las notificaciones que el sistema envía al usuario ("Buscando...") son para su información y NO forman parte de nuestro historial. Ignóralas.`

// BaseSystemPrompt returns the default system prompt.
func BaseSystemPrompt() string {
	return SystemPrompt("")
}

// SystemPrompt returns the system prompt with persona in place of the
// default identity. A blank persona uses the default.
func SystemPrompt(persona string) string {
	persona = strings.TrimSpace(persona)
	if persona == "" {
		persona = defaultIdentity
	}
	return persona + "\n\n" + fmt.Sprintf(protocolTemplate, SearchMarker, QuerySeparator)
}

// LoadPersona reads a persona file. An empty path returns "".
func LoadPersona(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read persona: %w", err)
	}
	return string(data), nil
}
