package conversation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/cmms-omnibot/internal/cmms"
	"github.com/wolfman30/cmms-omnibot/internal/session"
)

const equipmentDisplayCap = 10

const (
	replyGreeting = "¡Hola! 👋 Soy el asistente virtual de Somacor-CMMS.\n\n" +
		"¿En qué te puedo ayudar hoy?\n\n" +
		"• Reportar una falla\n" +
		"• Consultar el estado de una OT\n" +
		"• Ver los equipos disponibles\n\n" +
		"Escribe 'ayuda' para ver todas las opciones."

	replyHelp = "🤖 *Asistente Virtual de Somacor-CMMS*\n\n" +
		"Esto es lo que puedo hacer:\n\n" +
		"1️⃣ *Reportar una falla*\n" +
		"   Escribe: 'reportar falla'\n\n" +
		"2️⃣ *Consultar el estado de una OT*\n" +
		"   Escribe: 'estado OT-XXX' o 'consultar OT-XXX'\n\n" +
		"3️⃣ *Ver equipos*\n" +
		"   Escribe: 'equipos' o 'listar equipos'\n\n" +
		"Escribe 'cancelar' en cualquier momento para volver a empezar."

	replyFallback = "🤔 No entendí tu mensaje.\n\n" +
		"Puedes escribir:\n" +
		"• 'reportar falla'\n" +
		"• 'estado OT-XXX'\n" +
		"• 'equipos'\n" +
		"• 'ayuda'"

	replyCancelled = "❌ Operación cancelada. ¿En qué más te puedo ayudar?"

	replyEquipmentPrompt = "🔧 *Reporte de Falla*\n\n" +
		"Indícame el nombre o el código del equipo con la falla.\n\n" +
		"Ejemplo: 'Excavadora 01' o 'EXC-001'"

	replyDescriptionTooShort = "⚠️ La descripción es muy corta.\n\n" +
		"Agrega más detalles de la falla para que el técnico entienda bien el problema."

	replyPriorityMenu = "📊 *Prioridad de la Falla*\n\n" +
		"¿Qué prioridad tiene esta falla?\n\n" +
		"1️⃣ *Baja*: no afecta operaciones críticas\n" +
		"2️⃣ *Media*: afecta operaciones normales\n" +
		"3️⃣ *Alta*: afecta operaciones críticas\n" +
		"4️⃣ *Crítica*: detiene por completo las operaciones\n\n" +
		"Responde con Baja, Media, Alta o Crítica (o 1 a 4)."

	replyInvalidPriority = "❌ Prioridad no válida.\n\n" +
		"Responde con Baja, Media, Alta o Crítica (o 1 a 4)."

	replyConfirmPrompt = "Responde 'Sí' para confirmar o 'No' para cancelar."

	replyReportCancelled = "❌ Reporte cancelado. ¿En qué más te puedo ayudar?"

	replyOrderPrompt = "🔍 *Consulta de Orden de Trabajo*\n\n" +
		"Indícame el número de la OT que quieres consultar.\n\n" +
		"Ejemplo: 'OT-CORR-123' o 'OT-PREV-456'"

	replyOrderBadFormat = "❌ No reconocí el número de OT.\n\n" +
		"Escríbelo con el formato OT-XXX-XXX."

	replyNoEquipment = "📋 No hay equipos registrados en el sistema."

	replyBackendUnavailable = "⚠️ El sistema de mantenimiento no está disponible en este momento. " +
		"Intenta nuevamente en unos minutos."

	replyApology = "😓 Tuvimos un problema procesando tu mensaje. Intenta nuevamente en unos momentos."

	replyAnotherOrder = "¿Necesitas consultar otra OT?"
)

var processingReplies = map[Intent]string{
	IntentStartFaultReport: "Iniciando el proceso de reporte de falla...",
	IntentQueryWorkOrder:   "Consultando la orden de trabajo...",
	IntentListEquipment:    "Obteniendo la lista de equipos...",
}

const replyProcessingDefault = "Procesando tu solicitud..."

// ProcessingReply is the acknowledgement sent when a request is delegated.
func ProcessingReply(intent Intent) string {
	if reply, ok := processingReplies[intent]; ok {
		return reply
	}
	return replyProcessingDefault
}

func replyEquipmentNotFound(term string) string {
	return fmt.Sprintf("❌ No encontré un equipo con '%s'.\n\n"+
		"Revisa el nombre o el código e intenta otra vez.\n"+
		"Escribe 'cancelar' y luego 'equipos' para ver la lista completa.", strings.TrimSpace(term))
}

func replyEquipmentSelected(name string) string {
	return fmt.Sprintf("✅ Equipo seleccionado: *%s*\n\n"+
		"Ahora describe en detalle la falla del equipo.\n\n"+
		"Puedes incluir:\n"+
		"• ¿Qué está fallando?\n"+
		"• ¿Cuándo empezó?\n"+
		"• ¿Hay algún síntoma específico?", name)
}

func replySummary(draft session.Draft) string {
	return fmt.Sprintf("📝 *Resumen del Reporte*\n\n"+
		"🔧 Equipo: %s\n"+
		"📝 Descripción: %s\n"+
		"⚠️ Prioridad: %s\n\n"+
		"¿Confirmas el reporte? (Sí/No)", equipmentName(draft), draft.Description, draft.Priority.Label())
}

func replyReportCreated(number string, draft session.Draft) string {
	if number == "" {
		number = "N/A"
	}
	return fmt.Sprintf("✅ *Reporte Creado Exitosamente*\n\n"+
		"📋 Número de OT: *%s*\n"+
		"🔧 Equipo: %s\n"+
		"⚠️ Prioridad: %s\n\n"+
		"Se notificará al técnico y la orden de trabajo será asignada pronto.\n\n"+
		"¿Necesitas ayuda con algo más?", number, equipmentName(draft), draft.Priority.Label())
}

func replyReportFailed(err error) string {
	return fmt.Sprintf("❌ *Error al Crear el Reporte*\n\n%s\n\n"+
		"Intenta nuevamente o contacta al administrador.", failureDetail(err))
}

func replyOrderNotFound(number string) string {
	return fmt.Sprintf("❌ No se encontró la orden de trabajo '%s'. Verifica el número e intenta nuevamente.", number)
}

// failureDetail turns a record client error into text safe to show the user.
func failureDetail(err error) string {
	var apiErr *cmms.APIError
	switch {
	case errors.Is(err, cmms.ErrNoUsers):
		return "No hay usuarios disponibles en el sistema"
	case errors.Is(err, cmms.ErrUserLookup):
		return "No se pudo obtener información de usuarios"
	case errors.Is(err, cmms.ErrTimeout):
		return "El sistema de mantenimiento no respondió a tiempo"
	case errors.As(err, &apiErr):
		return fmt.Sprintf("Error al crear el reporte: %s", apiErr.Body)
	default:
		return "Error de conexión con el sistema de mantenimiento"
	}
}

func formatWorkOrder(order *cmms.WorkOrder) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 *Orden de Trabajo: %s*\n\n", orDefault(order.Number, "N/A"))
	fmt.Fprintf(&b, "🔧 Equipo: %s\n", orDefault(order.EquipmentName, "N/A"))
	fmt.Fprintf(&b, "📊 Estado: %s\n", orDefault(order.Status, "N/A"))
	fmt.Fprintf(&b, "🔨 Tipo: %s\n", orDefault(order.MaintenanceType, "N/A"))
	fmt.Fprintf(&b, "⚠️ Prioridad: %s\n", orDefault(order.Priority, "N/A"))
	fmt.Fprintf(&b, "📅 Fecha Emisión: %s\n", orDefault(order.IssuedAt, "N/A"))
	fmt.Fprintf(&b, "🗓️ Fecha Ejecución: %s\n", orDefault(order.ScheduledFor, "No programada"))
	fmt.Fprintf(&b, "👷 Técnico: %s\n", orDefault(order.Technician, "No asignado"))
	if order.Problem != "" {
		fmt.Fprintf(&b, "\n📝 Problema: %s\n", order.Problem)
	}
	return b.String()
}

func formatEquipmentList(equipment []cmms.Equipment) string {
	var b strings.Builder
	b.WriteString("📋 *Equipos Disponibles:*\n\n")
	for i, eq := range equipment {
		if i == equipmentDisplayCap {
			break
		}
		fmt.Fprintf(&b, "%d. %s (%s) - %s\n", i+1,
			orDefault(eq.Name, "N/A"), orDefault(eq.Code.String(), "N/A"), orDefault(eq.Status, "N/A"))
	}
	if remaining := len(equipment) - equipmentDisplayCap; remaining > 0 {
		fmt.Fprintf(&b, "\n... y %d equipos más.", remaining)
	}
	return b.String()
}

func equipmentName(draft session.Draft) string {
	if draft.Equipment == nil {
		return "N/A"
	}
	return draft.Equipment.Name
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
