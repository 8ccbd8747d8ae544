package rod

const chatPageHTML = `<!DOCTYPE html>
<html>
<body>
<div role="log" aria-label="Chat messages">
  <div data-message-id="1">
    <div role="article" aria-label="Assistant message" id="assistant">
      <div class="prose">
        <div data-language-id="json">json</div>
        <pre><code id="call">{"__marker_call": true, "tool": "add"}</code></pre>
      </div>
    </div>
  </div>
  <div data-message-id="2">
    <div role="article" aria-label="Your message" id="user">hello</div>
  </div>
</div>
<form id="chat-input-form">
  <textarea id="chat-input"></textarea>
  <button type="submit" aria-label="Send">Send</button>
</form>
<div id="sent"></div>
<script>
  document.getElementById('chat-input-form').addEventListener('submit', (e) => {
    e.preventDefault();
    const input = document.getElementById('chat-input');
    document.getElementById('sent').textContent = input.value;
    input.value = '';
  });
</script>
</body>
</html>`

const cardHTML = `<div data-mcp-tool-ui="true" data-mcp-card="card-1">
  <select data-mcp-action="select"><option value="a">A</option><option value="b">B</option></select>
  <button data-mcp-action="call" id="call-button">Call tool</button>
</div>`
